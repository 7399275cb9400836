package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/driftpro/chatcore/chat"
)

func TestRecorder(t *testing.T) {
	r := New()
	r.MessageAppended(chat.KindGroup)
	r.MessageAppended(chat.KindGroup)
	r.MessageAppended(chat.KindPrivate)
	r.SeqReserveRetry()
	r.Delivery(chat.ChannelEmail, chat.DeliveryFailed)
	r.FanoutCompleted(20 * time.Millisecond)

	if got := testutil.ToFloat64(r.messages.WithLabelValues("group")); got != 2 {
		t.Errorf("Group messages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.retries); got != 1 {
		t.Errorf("Retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.deliveries.WithLabelValues("email", "failed")); got != 1 {
		t.Errorf("Failed email deliveries = %v, want 1", got)
	}

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"chatcore_messages_appended_total", "chatcore_fanout_duration_seconds_bucket", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Exposition is missing %s", name)
		}
	}
}
