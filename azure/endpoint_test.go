package azure

import "testing"

func TestClassifierClassify(t *testing.T) {
	c := Classifier{}
	cases := []struct {
		host string
		want EndpointType
	}{
		{"myserver.database.windows.net", AzureSQL},
		{"MYSERVER.DATABASE.WINDOWS.NET", AzureSQL},
		{"myws.datawarehouse.fabric.microsoft.com", Fabric},
		{"myws.pbidedicated.windows.net", Fabric},
		{"myws-ondemand.sql.azuresynapse.net", Synapse},
		{"sqlserver.corp.example.com", OnPremises},
		{"localhost", OnPremises},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.host); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}

func TestClassifierRequiresHostnameVerification(t *testing.T) {
	c := Classifier{}
	if c.RequiresHostnameVerification(OnPremises) {
		t.Error("on-premises should not require hostname verification")
	}
	for _, typ := range []EndpointType{AzureSQL, Fabric, Synapse} {
		if !c.RequiresHostnameVerification(typ) {
			t.Errorf("%v should require hostname verification", typ)
		}
	}
}
