package nntp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/nzbdaemon/nzbd/internal/config"
)

// Conn is one authenticated connection to a news server. The zero value is
// not usable; Dial returns a connection that has seen the greeting and,
// when credentials are configured, completed the AUTHINFO exchange.
type Conn struct {
	cfg   config.ServerConfig
	sock  net.Conn
	text  *textproto.Conn
	group string
}

// Dial opens the TCP (or TLS) connection, reads the greeting and
// authenticates. The dialer is dual-stack, so IPv4/IPv6 selection follows
// the platform's happy-eyeballs behaviour.
func Dial(ctx context.Context, cfg config.ServerConfig) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dialer := &net.Dialer{Timeout: cfg.Timeout}
	sock, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if cfg.TLS {
		tlsConf := &tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
		tlsSock := tls.Client(sock, tlsConf)
		if err := tlsSock.HandshakeContext(ctx); err != nil {
			sock.Close()
			return nil, fmt.Errorf("tls handshake %s: %w", addr, err)
		}
		sock = tlsSock
	}

	c := &Conn{
		cfg:  cfg,
		sock: sock,
		text: textproto.NewConn(sock),
	}

	if err := c.greet(); err != nil {
		c.Close()
		return nil, err
	}

	if cfg.Username != "" {
		if err := c.authenticate(); err != nil {
			c.Close()
			return nil, err
		}
	}

	return c, nil
}

func (c *Conn) greet() error {
	c.extendDeadline()

	// 200 ready, 201 ready but posting not allowed; both fine for a
	// download-only client. 400 means go away.
	_, _, err := c.text.ReadCodeLine(200)
	if err == nil {
		return nil
	}
	if tpErr, ok := err.(*textproto.Error); ok && tpErr.Code == 201 {
		return nil
	}
	return fmt.Errorf("greeting: %w", mapCode(err))
}

func (c *Conn) authenticate() error {
	c.extendDeadline()

	if _, err := c.text.Cmd("AUTHINFO USER %s", c.cfg.Username); err != nil {
		return err
	}

	// 381 password required; 281 means user alone was enough.
	_, _, err := c.text.ReadCodeLine(381)
	if err != nil {
		if tpErr, ok := err.(*textproto.Error); ok && tpErr.Code == 281 {
			return nil
		}
		return fmt.Errorf("authinfo user: %w", mapCode(err))
	}

	if _, err := c.text.Cmd("AUTHINFO PASS %s", c.cfg.Password); err != nil {
		return err
	}

	if _, _, err := c.text.ReadCodeLine(281); err != nil {
		return fmt.Errorf("authinfo pass: %w", mapCode(err))
	}

	return nil
}

// Group switches the server's group context. Only needed for servers that
// refuse BODY-by-message-id without one; the worker calls it with the
// first newsgroup of the article's parent file.
func (c *Conn) Group(name string) error {
	if c.group == name {
		return nil
	}
	c.extendDeadline()

	if _, err := c.text.Cmd("GROUP %s", name); err != nil {
		return err
	}
	if _, _, err := c.text.ReadCodeLine(211); err != nil {
		return fmt.Errorf("group %s: %w", name, mapCode(err))
	}

	c.group = name
	return nil
}

// Body issues BODY for the message-id and returns a reader over the
// dot-unstuffed payload. The reader refreshes the socket deadline on every
// chunk and aborts (by killing the connection) when ctx fires, so a
// removed job does not keep a connection busy draining unwanted bytes.
func (c *Conn) Body(ctx context.Context, messageID string) (io.Reader, func(), error) {
	c.extendDeadline()

	id := messageID
	if !strings.HasPrefix(id, "<") {
		id = "<" + id + ">"
	}

	if _, err := c.text.Cmd("BODY %s", id); err != nil {
		return nil, nil, err
	}

	// 222 body follows, terminated by dot-stuffed CRLF . CRLF.
	if _, _, err := c.text.ReadCodeLine(222); err != nil {
		return nil, nil, mapCode(err)
	}

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Abort the in-flight read instead of draining the body.
			c.sock.Close()
		case <-watchDone:
		}
	}()
	stop := func() { close(watchDone) }

	return &deadlineReader{r: c.text.DotReader(), conn: c}, stop, nil
}

// deadlineReader pushes the read deadline forward on every chunk so a slow
// but live BODY stream is not cut off mid-article.
type deadlineReader struct {
	r    io.Reader
	conn *Conn
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	d.conn.extendDeadline()
	return d.r.Read(p)
}

func (c *Conn) extendDeadline() {
	_ = c.sock.SetDeadline(time.Now().Add(c.cfg.Timeout))
}

// Close sends QUIT so the server releases the slot immediately, then tears
// down the socket.
func (c *Conn) Close() error {
	if c.text == nil {
		return nil
	}
	_ = c.sock.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = c.text.Cmd("QUIT")
	return c.text.Close()
}
