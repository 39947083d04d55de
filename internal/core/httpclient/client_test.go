package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestNewOutbound(t *testing.T) {
	c := NewOutbound(2 * time.Second)
	if c.Timeout != 2*time.Second {
		t.Fatalf("timeout=%v want 2s", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok || tr.MaxIdleConnsPerHost != 128 {
		t.Fatalf("transport=%T %+v", c.Transport, tr)
	}
	if NewOutbound(-1).Timeout != 0 {
		t.Fatalf("negative timeout should mean none")
	}
}
