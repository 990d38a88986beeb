package conn

import (
	"database/sql"
	"net"
	"net/url"
	"strconv"

	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Option locates a PostgreSQL database. ConnString wins over the individual
// fields; Conn reuses an open pool instead of dialing.
type Option struct {
	ConnString string
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string

	Conn   *sql.DB
	Config *gorm.Config
}

// Configured reports whether the option points at a database at all.
func (opt Option) Configured() bool {
	return opt.ConnString != "" || opt.Host != "" || opt.Conn != nil
}

// DSN renders the url the driver dials.
func (opt Option) DSN() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}
	host, port, ssl := opt.Host, opt.Port, opt.SSLMode
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}
	if ssl == "" {
		ssl = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		RawQuery: url.Values{"sslmode": {ssl}}.Encode(),
	}
	switch {
	case opt.User != "" && opt.Password != "":
		u.User = url.UserPassword(opt.User, opt.Password)
	case opt.User != "":
		u.User = url.User(opt.User)
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	return u.String()
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	db *gorm.DB
}

// New opens a gorm client for option.
func New(option Option) (*Client, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}

	dialector := postgres.Open(option.DSN())
	if option.Conn != nil {
		dialector = postgres.New(postgres.Config{Conn: option.Conn})
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres").With("host", option.Host)
	}
	return &Client{db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
