package config

import "path/filepath"

// All relay-owned files live under home (~/.adarelay or ADARELAY_HOME).

func Home() string {
	return ResolveHome()
}

// DataDir returns home/data.
func DataDir() string {
	return filepath.Join(Home(), "data")
}

// TenantsPath is the default file-store location, home/data/tenants.json.
func TenantsPath() string {
	return filepath.Join(DataDir(), "tenants.json")
}

// TenantsDBPath is the default sqlite location, home/data/tenants.db.
func TenantsDBPath() string {
	return filepath.Join(DataDir(), "tenants.db")
}
