package dbclient

import (
	"fmt"
	"strings"

	"doctransfer/internal/domain"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	driver:      "mysql",
	placeholder: questionMark,
	quote: func(ident string) string {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	},
	unlimited: "LIMIT 18446744073709551615",
	tables: `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`,
}

// buildMySQLDSN constructs a MySQL DSN from a DatabaseConnection.
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", conn.Host, port)
	cfg.DBName = conn.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	if conn.SSLMode == "require" {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}
