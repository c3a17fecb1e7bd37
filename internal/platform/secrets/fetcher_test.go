package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const rendererSecretRef = "secret://renderer_webhook_secret"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()

	client := newStubSecretClient()
	resource := "projects/craftyard-test/secrets/renderer_webhook_secret/versions/latest"
	client.values[resource] = "shared-signing-key"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("craftyard-test"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, rendererSecretRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "shared-signing-key" {
		t.Fatalf("expected shared-signing-key, got %s", got)
	}

	// Second resolve must come from cache.
	got, err = fetcher.Resolve(ctx, rendererSecretRef)
	if err != nil {
		t.Fatalf("Resolve second call returned error: %v", err)
	}
	if got != "shared-signing-key" {
		t.Fatalf("expected cached shared-signing-key, got %s", got)
	}

	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	fallbackPath := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(fallbackPath, []byte(rendererSecretRef+"=local-signing-key\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	client := newStubSecretClient()
	resource := "projects/craftyard-test/secrets/renderer_webhook_secret/versions/latest"
	client.errors[resource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("craftyard-test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, rendererSecretRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "local-signing-key" {
		t.Fatalf("expected fallback secret local-signing-key, got %s", got)
	}
}

func TestInvalidateNotifiesSubscribers(t *testing.T) {
	ctx := context.Background()

	client := newStubSecretClient()
	resource := "projects/craftyard-test/secrets/renderer_webhook_secret/versions/latest"
	client.values[resource] = "shared-signing-key"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("craftyard-test"),
	)
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, rendererSecretRef); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	ch, cancel := fetcher.Subscribe(rendererSecretRef)
	defer cancel()

	fetcher.Invalidate(rendererSecretRef)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected invalidation notification")
	}
}

func TestResolveHonoursVersionPins(t *testing.T) {
	ctx := context.Background()

	client := newStubSecretClient()
	resourcePinned := "projects/craftyard-test/secrets/renderer_webhook_secret/versions/3"
	client.values[resourcePinned] = "rotated-key-v3"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("craftyard-test"),
		WithVersionPins(map[string]string{
			rendererSecretRef: "3",
		}),
	)
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, rendererSecretRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "rotated-key-v3" {
		t.Fatalf("expected rotated-key-v3, got %s", got)
	}
	if calls := client.callCount(resourcePinned); calls != 1 {
		t.Fatalf("expected fetch of version 3, got %d calls", calls)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	fallbackPath := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(fallbackPath, []byte(rendererSecretRef+"=local-signing-key\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	client := newStubSecretClient()
	resource := "projects/craftyard-test/secrets/renderer_webhook_secret/versions/latest"
	client.errors[resource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("craftyard-test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	if _, err = fetcher.Resolve(ctx, rendererSecretRef); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	dir := t.TempDir()
	fallbackPath := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(fallbackPath, []byte(rendererSecretRef+"=local-signing-key\n"), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}

	fetcher, err := NewFetcher(ctx, WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, rendererSecretRef)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-signing-key" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

type stubSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newStubSecretClient() *stubSecretClient {
	return &stubSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *stubSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *stubSecretClient) Close() error {
	return nil
}

func (f *stubSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
