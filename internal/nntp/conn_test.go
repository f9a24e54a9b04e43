package nntp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/nzbdaemon/nzbd/internal/config"
)

// fakeServer speaks just enough NNTP for the client under test.
type fakeServer struct {
	ln     net.Listener
	user   string
	pass   string
	bodies map[string]string // "<id>" -> body lines, LF separated
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	fs := &fakeServer{
		ln:     ln,
		user:   "alice",
		pass:   "secret",
		bodies: make(map[string]string),
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fs.serve(conn)
		}
	}()

	return fs
}

func (fs *fakeServer) addr() (string, int) {
	addr := fs.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func (fs *fakeServer) serve(conn net.Conn) {
	defer conn.Close()

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)

	fmt.Fprintf(w, "200 fake news server ready\r\n")
	w.Flush()

	authedUser := ""
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case strings.HasPrefix(line, "AUTHINFO USER "):
			authedUser = strings.TrimPrefix(line, "AUTHINFO USER ")
			fmt.Fprintf(w, "381 password required\r\n")

		case strings.HasPrefix(line, "AUTHINFO PASS "):
			pass := strings.TrimPrefix(line, "AUTHINFO PASS ")
			if authedUser == fs.user && pass == fs.pass {
				fmt.Fprintf(w, "281 authentication accepted\r\n")
			} else {
				fmt.Fprintf(w, "481 authentication failed\r\n")
			}

		case strings.HasPrefix(line, "GROUP "):
			fmt.Fprintf(w, "211 10 1 10 %s\r\n", strings.TrimPrefix(line, "GROUP "))

		case strings.HasPrefix(line, "BODY "):
			id := strings.TrimPrefix(line, "BODY ")
			body, ok := fs.bodies[id]
			if !ok {
				fmt.Fprintf(w, "430 no such article\r\n")
				break
			}
			fmt.Fprintf(w, "222 0 %s\r\n", id)
			for _, bl := range strings.Split(body, "\n") {
				// Dot-stuffing per RFC 3977.
				if strings.HasPrefix(bl, ".") {
					bl = "." + bl
				}
				fmt.Fprintf(w, "%s\r\n", bl)
			}
			fmt.Fprintf(w, ".\r\n")

		case line == "QUIT":
			fmt.Fprintf(w, "205 bye\r\n")
			w.Flush()
			return

		default:
			fmt.Fprintf(w, "500 unknown command\r\n")
		}
		w.Flush()
	}
}

func clientConfig(fs *fakeServer) config.ServerConfig {
	host, port := fs.addr()
	return config.ServerConfig{
		ID:       "fake",
		Host:     host,
		Port:     port,
		Username: "alice",
		Password: "secret",
		Timeout:  5 * time.Second,
	}
}

func TestDialAuthenticates(t *testing.T) {
	fs := newFakeServer(t)

	conn, err := Dial(context.Background(), clientConfig(fs))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	conn.Close()
}

func TestDialRejectsBadPassword(t *testing.T) {
	fs := newFakeServer(t)

	cfg := clientConfig(fs)
	cfg.Password = "wrong"

	_, err := Dial(context.Background(), cfg)
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("Expected ErrAuthRejected, got %v", err)
	}
}

func TestBodyMissingArticle(t *testing.T) {
	fs := newFakeServer(t)

	conn, err := Dial(context.Background(), clientConfig(fs))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	_, _, err = conn.Body(context.Background(), "<missing@test>")
	if !errors.Is(err, ErrArticleMissing) {
		t.Fatalf("Expected ErrArticleMissing, got %v", err)
	}
}

func TestBodyStreamsAndUnstuffs(t *testing.T) {
	fs := newFakeServer(t)
	fs.bodies["<art@test>"] = "first line\n..leading dot\nlast line"

	conn, err := Dial(context.Background(), clientConfig(fs))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	body, stop, err := conn.Body(context.Background(), "art@test")
	if err != nil {
		t.Fatalf("Body failed: %v", err)
	}
	data, err := io.ReadAll(body)
	stop()
	if err != nil {
		t.Fatalf("Reading body failed: %v", err)
	}

	// DotReader un-stuffs leading dots and normalises CRLF to LF.
	want := "first line\n..leading dot\nlast line\n"
	if string(data) != want {
		t.Fatalf("Expected %q, got %q", want, data)
	}
}

func TestConnectionReusedAcrossArticles(t *testing.T) {
	fs := newFakeServer(t)
	fs.bodies["<a@test>"] = "body a"
	fs.bodies["<b@test>"] = "body b"

	conn, err := Dial(context.Background(), clientConfig(fs))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	for _, id := range []string{"<a@test>", "<b@test>"} {
		body, stop, err := conn.Body(context.Background(), id)
		if err != nil {
			t.Fatalf("Body %s failed: %v", id, err)
		}
		if _, err := io.ReadAll(body); err != nil {
			t.Fatalf("Read %s failed: %v", id, err)
		}
		stop()
	}
}

func TestGroupSwitch(t *testing.T) {
	fs := newFakeServer(t)

	conn, err := Dial(context.Background(), clientConfig(fs))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Group("alt.binaries.test"); err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	// Re-selecting the current group is a no-op, not a round-trip.
	if err := conn.Group("alt.binaries.test"); err != nil {
		t.Fatalf("Repeated Group failed: %v", err)
	}
}

func TestBodyAbortsOnContextCancel(t *testing.T) {
	fs := newFakeServer(t)
	fs.bodies["<slow@test>"] = strings.Repeat("data line\n", 100)

	conn, err := Dial(context.Background(), clientConfig(fs))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	body, stop, err := conn.Body(ctx, "<slow@test>")
	if err != nil {
		t.Fatalf("Body failed: %v", err)
	}
	defer stop()

	cancel()

	// The watcher kills the socket; the read must not hang.
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, body)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not abort after context cancellation")
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		code int
		want error
	}{
		{430, ErrArticleMissing},
		{423, ErrArticleMissing},
		{481, ErrAuthRejected},
		{482, ErrAuthRejected},
		{502, ErrQuotaExceeded},
		{503, ErrServerFault},
	}
	for _, c := range cases {
		got := mapCode(&textproto.Error{Code: c.code, Msg: "reply"})
		if !errors.Is(got, c.want) {
			t.Errorf("Code %d mapped to %v, want %v", c.code, got, c.want)
		}
	}
}
