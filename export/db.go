package export

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	// Blind import support for sqlite3 used by OpenSQLite.
	_ "github.com/mattn/go-sqlite3"
)

type MySQLOptions struct {
	// Server is the TCP endpoint (IP/DNS and port).
	Server       string
	User         string
	PasswordFile string
	DBName       string
}

// OpenSQLite opens (and creates if needed) the sqlite DB at file.
func OpenSQLite(file string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite DB %q: %w", file, err)
	}
	// sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)
	return db, nil
}

// OpenMySQL connects to a MySQL server. The password is read from a file so it
// does not show up in the process list.
func OpenMySQL(o MySQLOptions) (*sql.DB, error) {
	pass, err := os.ReadFile(o.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read MySQL password file %q: %w", o.PasswordFile, err)
	}
	cfg := mysql.Config{
		User:                 o.User,
		Passwd:               strings.TrimSpace(string(pass)),
		Net:                  "tcp",
		Addr:                 o.Server,
		DBName:               o.DBName,
		AllowNativePasswords: true,
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open MySQL DB %q: %w", o.Server, err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	return db, nil
}
