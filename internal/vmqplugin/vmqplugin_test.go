package vmqplugin

import (
	"context"
	"testing"
)

func TestNoopPluginSatisfiesPlugin(t *testing.T) {
	var p Plugin = NoopPlugin{}

	if err := p.Publish(context.Background(), "/some/topic", []byte("payload"), QoSExactlyOnce); err != nil {
		t.Errorf("expected nil error from NoopPlugin.Publish, got %v", err)
	}
	if err := p.Disconnect(context.Background(), "client-1", true); err != nil {
		t.Errorf("expected nil error from NoopPlugin.Disconnect, got %v", err)
	}
}

func TestQoSLevelsAreOrdered(t *testing.T) {
	if QoSAtMostOnce >= QoSAtLeastOnce || QoSAtLeastOnce >= QoSExactlyOnce {
		t.Errorf("expected QoS levels in ascending order, got %d < %d < %d",
			QoSAtMostOnce, QoSAtLeastOnce, QoSExactlyOnce)
	}
}
