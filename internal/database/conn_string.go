package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/wsduplex/internal/config"
)

// ApplicationName is reported to PostgreSQL for every pooled connection.
const ApplicationName = "wsclient"

// BuildConnString builds a PostgreSQL connection URL from config.
// User and password are escaped, IPv6 hosts are bracketed.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
		RawQuery: url.Values{
			"sslmode":          {sslMode},
			"application_name": {ApplicationName},
		}.Encode(),
	}
	return u.String()
}
