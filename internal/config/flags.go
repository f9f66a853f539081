package config

// GlobalOpts are the options every command shares.
func GlobalOpts(c *Config) []Opt {
	d := Default()
	return []Opt{
		{DestP: &c.OkapiURL, Flag: "okapi-url", Default: d.OkapiURL, Desc: "base url of the okapi gateway", Envs: []string{"OKAPI_URL"}, Persistent: true},
		{DestP: &c.TryCount, Flag: "try-count", Default: d.TryCount, Desc: "attempts of every retried gateway operation", Persistent: true},
		{DestP: &c.Backoff, Flag: "backoff", Default: d.Backoff, Desc: "pause between attempts", Persistent: true},
		{DestP: &c.HTTPTimeout, Flag: "http-timeout", Default: d.HTTPTimeout, Desc: "timeout of a single gateway request", Persistent: true},
		{DestP: &c.RateLimit, Flag: "rate-limit", Default: d.RateLimit, Desc: "max gateway requests per second, 0 for no limit", Persistent: true},
		{DestP: &c.LogLevel, Flag: "log-level", Default: d.LogLevel, Desc: "log level: debug, info, warn or error", Persistent: true},
		{DestP: &c.LogFormat, Flag: "log-format", Default: d.LogFormat, Desc: "log format: json or console", Persistent: true},
		{DestP: &c.MetricsAddr, Flag: "metrics-addr", Default: d.MetricsAddr, Desc: "serve prometheus metrics on this address while running", Persistent: true},
	}
}

// TenantOpts select and describe the tenant.
func TenantOpts(c *Config) []Opt {
	d := Default()
	return []Opt{
		{DestP: &c.TenantID, Flag: "tenant-id", Default: d.TenantID, Desc: "the tenant's id", Envs: []string{"TENANT_ID"}},
		{DestP: &c.TenantName, Flag: "tenant-name", Desc: "the tenant's name"},
		{DestP: &c.TenantDescription, Flag: "tenant-description", Desc: "the tenant's description"},
	}
}

// AdminOpts describe the user a command creates or logs in as.
func AdminOpts(c *Config) []Opt {
	d := Default()
	return []Opt{
		{DestP: &c.AdminID, Flag: "user-id", Default: d.AdminID, Desc: "the user's id", Envs: []string{"ADMIN_ID"}},
		{DestP: &c.AdminUsername, Flag: "user-name", Default: d.AdminUsername, Desc: "the user's name", Envs: []string{"ADMIN_USERNAME"}},
		{DestP: &c.AdminPassword, Flag: "user-password", Default: d.AdminPassword, Desc: "the user's password", Envs: []string{"ADMIN_PASSWORD"}},
		{DestP: &c.AdminPermissions, Flag: "user-permissions", Default: d.AdminPermissions, Desc: "permissions of a newly created user"},
	}
}

// DataOpts control the order and method of loaded documents.
func DataOpts(c *Config) []Opt {
	return []Opt{
		{DestP: &c.DataSort, Flag: "sort", Desc: "comma-separated glob patterns; matching files load first, in pattern order"},
		{DestP: &c.DataMethods, Flag: "custom-method", Desc: "comma-separated pattern=METHOD pairs, METHOD is POST or PUT"},
		{DestP: &c.DataOnly, Flag: "only", Default: false, Desc: "load only files matching a sort pattern or a custom method"},
	}
}
