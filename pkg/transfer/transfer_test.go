package transfer

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strings"
	"testing"
)

func oneShotListener(t *testing.T, handle func(conn net.Conn)) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return port
}

func TestDownload_Success(t *testing.T) {
	payload := []byte("hello, file transfer")

	port := oneShotListener(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		reader.ReadString('\n') // key
		reader.ReadString('\n') // remote path
		fmt.Fprintf(conn, "OK %d\n", len(payload))
		conn.Write(payload)
	})

	c := New("127.0.0.1", "key")
	c.DownloadPort = port

	var out bytes.Buffer
	n, err := c.Download("remote.txt", &out)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != int64(len(payload)) || out.String() != string(payload) {
		t.Fatalf("got %q (%d bytes), want %q", out.String(), n, payload)
	}
}

func TestDownload_ServerError(t *testing.T) {
	port := oneShotListener(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		reader.ReadString('\n')
		reader.ReadString('\n')
		conn.Write([]byte("ERROR not found\n"))
	})

	c := New("127.0.0.1", "key")
	c.DownloadPort = port

	var out bytes.Buffer
	if _, err := c.Download("missing.txt", &out); err == nil {
		t.Fatal("expected an error")
	} else if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected error to mention server message, got %v", err)
	}
}

func TestDownload_SizeMismatch(t *testing.T) {
	port := oneShotListener(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		reader.ReadString('\n')
		reader.ReadString('\n')
		fmt.Fprintf(conn, "OK 10\n")
		conn.Write([]byte("short")) // fewer than declared, then conn closes
	})

	c := New("127.0.0.1", "key")
	c.DownloadPort = port

	var out bytes.Buffer
	if _, err := c.Download("f.txt", &out); err != ErrSizeMismatch {
		t.Fatalf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestUpload_Success(t *testing.T) {
	var received []byte
	port := oneShotListener(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		reader.ReadString('\n') // key
		reader.ReadString('\n') // remote path
		sizeLine, _ := reader.ReadString('\n')
		sizeLine = strings.TrimSpace(sizeLine)
		var size int
		fmt.Sscanf(sizeLine, "%d", &size)
		buf := make([]byte, size)
		for n := 0; n < size; {
			m, err := reader.Read(buf[n:])
			if err != nil {
				break
			}
			n += m
		}
		received = buf
		conn.Write([]byte("OK\n"))
	})

	c := New("127.0.0.1", "key")
	c.UploadPort = port

	payload := []byte("upload me")
	if err := c.Upload("remote.txt", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if string(received) != string(payload) {
		t.Fatalf("server received %q, want %q", received, payload)
	}
}

func TestUpload_ServerError(t *testing.T) {
	port := oneShotListener(t, func(conn net.Conn) {
		reader := bufio.NewReader(conn)
		reader.ReadString('\n')
		reader.ReadString('\n')
		reader.ReadString('\n')
		discardN(reader, 4)
		conn.Write([]byte("ERROR disk full\n"))
	})

	c := New("127.0.0.1", "key")
	c.UploadPort = port

	if err := c.Upload("f.txt", bytes.NewReader([]byte("data")), 4); err == nil {
		t.Fatal("expected an error")
	} else if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected error to mention server message, got %v", err)
	}
}

func discardN(r *bufio.Reader, n int) {
	buf := make([]byte, n)
	for read := 0; read < n; {
		m, err := r.Read(buf[read:])
		if err != nil {
			return
		}
		read += m
	}
}
