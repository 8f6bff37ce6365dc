package main

import (
	"context"
	"net/url"

	"github.com/denisvmedia/go-proxychain/internal/helper"
	"github.com/denisvmedia/go-proxychain/proxy"
)

// newPrepareRequest builds the policy callback from the CLI configuration:
// static credentials check, bypass-host rules and a fixed upstream.
func newPrepareRequest(config *Config, upstreamURL *url.URL) (proxy.PrepareRequestFunc, error) {
	var auth proxy.StaticCredentials
	if config.Auth != "" {
		parsed, err := proxy.ParseStaticCredentials(config.Auth)
		if err != nil {
			return nil, err
		}
		auth = parsed
	}

	return func(_ context.Context, params *proxy.RequestParams) (*proxy.RequestOutcome, error) {
		outcome := &proxy.RequestOutcome{}
		if auth != nil && !auth.Valid(params.Username, params.Password) {
			outcome.RequestAuthentication = true
			return outcome, nil
		}
		if upstreamURL != nil && !helper.MatchHost(params.Request.Host, config.BypassHosts) {
			outcome.UpstreamProxyURL = upstreamURL
		}
		return outcome, nil
	}, nil
}
