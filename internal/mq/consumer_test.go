package mq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/astarte-platform/astra-data-updater/internal/timeutil"
)

func TestHeaderString(t *testing.T) {
	headers := amqp.Table{
		"x_astarte_realm": "test-realm",
		"x_astarte_empty": "",
		"x_astarte_wrong_type": 42,
	}

	if v, ok := headerString(headers, "x_astarte_realm"); !ok || v != "test-realm" {
		t.Errorf("expected (test-realm, true), got (%q, %v)", v, ok)
	}
	if _, ok := headerString(headers, "x_astarte_missing"); ok {
		t.Error("expected missing header to report false")
	}
	if _, ok := headerString(headers, "x_astarte_empty"); ok {
		t.Error("expected empty string header to report false")
	}
	if _, ok := headerString(headers, "x_astarte_wrong_type"); ok {
		t.Error("expected non-string header value to report false")
	}
}

func TestTsFromDeliveryUsesAMQPTimestamp(t *testing.T) {
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := amqp.Delivery{Timestamp: when}

	got := tsFromDelivery(d)
	want := timeutil.FromMillis(when.UnixMilli())
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestTsFromDeliveryFallsBackWhenZero(t *testing.T) {
	d := amqp.Delivery{}
	before := timeutil.NowDecimicro()
	got := tsFromDelivery(d)
	after := timeutil.NowDecimicro()

	if got < before || got > after {
		t.Errorf("expected fallback timestamp within [%d, %d], got %d", before, after, got)
	}
}
