package azure

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ha1tch/tdsclient/internal/tdserr"
	"github.com/ha1tch/tdsclient/internal/tdslog"
)

// CachedTokenProvider implements handshake.TokenProvider by reading a
// bearer token from a file and watching it for out-of-band refreshes
// (an external process, e.g. az login or a sidecar, rewrites the file
// when the token nears expiry). A long-lived pool then picks up a
// refreshed token without polling or re-running the AD auth flow
// itself.
type CachedTokenProvider struct {
	path string
	log  tdslog.Logger

	mu    sync.RWMutex
	token string

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewCachedTokenProvider reads the token cache file once and starts
// watching it for changes. The file is expected to contain nothing but
// the bearer token (whitespace-trimmed).
func NewCachedTokenProvider(path string) (*CachedTokenProvider, error) {
	p := &CachedTokenProvider{
		path:   path,
		log:    tdslog.For(tdslog.LayerAzure),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := p.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, tdserr.Wrap(err, tdserr.KindAuthentication, tdserr.ErrCodeTokenProviderFailed, tdslog.LayerAzure,
			"create token-cache watcher")
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, tdserr.Wrap(err, tdserr.KindAuthentication, tdserr.ErrCodeTokenProviderFailed, tdslog.LayerAzure,
			"watch token-cache file")
	}
	p.watcher = w

	go p.watchLoop()
	return p, nil
}

// AccessToken returns the most recently cached token. The resource
// parameter is accepted to satisfy handshake.TokenProvider but unused:
// the cache file holds a single token scoped by whatever process wrote
// it.
func (p *CachedTokenProvider) AccessToken(resource string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return "", tdserr.New(tdserr.KindAuthentication, tdserr.ErrCodeTokenCacheInvalid, tdslog.LayerAzure,
			"token cache is empty")
	}
	return p.token, nil
}

// Close stops the file watcher.
func (p *CachedTokenProvider) Close() error {
	close(p.stopCh)
	<-p.doneCh
	return p.watcher.Close()
}

func (p *CachedTokenProvider) reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return tdserr.Wrap(err, tdserr.KindAuthentication, tdserr.ErrCodeTokenCacheInvalid, tdslog.LayerAzure,
			"read token cache file")
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return tdserr.New(tdserr.KindAuthentication, tdserr.ErrCodeTokenCacheInvalid, tdslog.LayerAzure,
			"token cache file is empty")
	}
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
	return nil
}

func (p *CachedTokenProvider) watchLoop() {
	defer close(p.doneCh)

	// Debounce bursty write sequences (truncate-then-write) so a single
	// logical refresh doesn't trigger several reloads.
	var debounce *time.Timer
	reloadCh := make(chan struct{}, 1)

	for {
		select {
		case <-p.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(50*time.Millisecond, func() {
				select {
				case reloadCh <- struct{}{}:
				default:
				}
			})

		case <-reloadCh:
			if err := p.reload(); err != nil {
				p.log.Warn("token cache reload failed", "path", p.path, "error", err.Error())
			} else {
				p.log.Info("token cache reloaded", "path", p.path)
			}

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("token cache watcher error", "error", err.Error())
		}
	}
}
