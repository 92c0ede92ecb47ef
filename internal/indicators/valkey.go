package indicators

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/valkey-io/valkey-go"
)

// ValkeyStore is a SharedStore backed by Valkey (Redis-compatible).
type ValkeyStore struct {
	client valkey.Client
}

// NewValkeyStore connects to addr.
func NewValkeyStore(addr string) (*ValkeyStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "indicators: valkey connect %s", addr)
	}
	return &ValkeyStore{client: client}, nil
}

// Get implements SharedStore. A missing key reports false with no error.
func (v *ValkeyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "valkey get")
	}
	return b, true, nil
}

// Set implements SharedStore.
func (v *ValkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := v.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Ex(ttl).Build()
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return eris.Wrap(err, "valkey set")
	}
	return nil
}

// Delete implements SharedStore.
func (v *ValkeyStore) Delete(ctx context.Context, key string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(key).Build()).Error(); err != nil {
		return eris.Wrap(err, "valkey del")
	}
	return nil
}

// Close releases the client.
func (v *ValkeyStore) Close() {
	v.client.Close()
}
