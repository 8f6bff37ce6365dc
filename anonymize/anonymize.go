// Package anonymize hides upstream proxy credentials behind a local proxy.
//
// Tools that accept a proxy URL but cannot carry credentials (or would leak
// them into logs) get a plain local URL instead: AnonymizeProxy starts a
// credential-free proxy on 127.0.0.1 that chains every request through the
// original, authenticated upstream.
package anonymize

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/denisvmedia/go-proxychain/proxy"
)

var (
	mu      sync.Mutex
	running = make(map[string]*proxy.Server)
)

// AnonymizeProxy starts a local proxy that chains to proxyURL and returns
// its URL ("http://127.0.0.1:<port>"). A plain http URL without credentials
// needs no anonymization and is returned unchanged.
func AnonymizeProxy(proxyURL string) (string, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "", fmt.Errorf("anonymize: invalid proxy URL: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "http") && !strings.EqualFold(u.Scheme, "https") {
		return "", fmt.Errorf("anonymize: proxy URL must have the http or https scheme, got %q", u.Scheme)
	}
	if u.User == nil && strings.EqualFold(u.Scheme, "http") {
		// Nothing to hide.
		return proxyURL, nil
	}

	server, err := proxy.NewServer(proxy.Options{
		Host: "127.0.0.1",
		PrepareRequest: func(_ context.Context, _ *proxy.RequestParams) (*proxy.RequestOutcome, error) {
			return &proxy.RequestOutcome{UpstreamProxyURL: u}, nil
		},
	})
	if err != nil {
		return "", err
	}
	if err := server.Listen(); err != nil {
		return "", err
	}

	anonymized := fmt.Sprintf("http://127.0.0.1:%d", server.Port())
	mu.Lock()
	running[anonymized] = server
	mu.Unlock()
	return anonymized, nil
}

// CloseAnonymizedProxy stops the local proxy previously returned by
// AnonymizeProxy. It reports whether a proxy was running at that URL.
func CloseAnonymizedProxy(anonymizedURL string, force bool) (bool, error) {
	mu.Lock()
	server, ok := running[anonymizedURL]
	delete(running, anonymizedURL)
	mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, server.Close(force)
}
