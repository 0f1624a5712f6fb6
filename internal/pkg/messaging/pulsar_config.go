package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shandysiswandi/pulsarbite/internal/pkg/jsoncodec"
)

const (
	DefaultPulsarServiceURL       = "pulsar://localhost:6650"
	DefaultPulsarOperationTimeout = 30 * time.Second
	DefaultPulsarIOThreads        = 1
	DefaultPulsarListenerThreads  = 1
)

// Supported values of PULSAR_AUTH_TYPE.
const (
	PulsarAuthTLS    = "tls"
	PulsarAuthAthenz = "athenz"
	PulsarAuthToken  = "token"
	PulsarAuthOAuth2 = "oauth2"
)

// ErrPulsarAuthTypeUnknown is returned for an unsupported PULSAR_AUTH_TYPE.
var ErrPulsarAuthTypeUnknown = errors.New("pkgmessage: unknown pulsar auth type")

// ConfigSource is the part of config.Config the Pulsar builder reads.
type ConfigSource interface {
	IsSet(key string) bool
	GetString(key string) string
}

// PulsarAuth holds the credentials of the selected authentication provider.
type PulsarAuth struct {
	Type string

	TLSCertificatePath string
	TLSPrivateKeyPath  string
	Athenz             map[string]string
	Token              string
	OAuth2             map[string]string
}

// PulsarClientConfig is the Pulsar client configuration read from PULSAR_* variables.
//
// Optional flags are pointers and stay nil when the variable is not set, so the client
// library default applies.
type PulsarClientConfig struct {
	ServiceURL       string
	Auth             *PulsarAuth
	OperationTimeout time.Duration
	IOThreads        int

	// MessageListenerThreads, ConcurrentLookupRequest and StatsInterval are accepted for
	// compatibility with other Pulsar clients; the Go client has no equivalent knob.
	MessageListenerThreads  int
	ConcurrentLookupRequest *int
	StatsInterval           *time.Duration

	UseTLS                     *bool
	TLSTrustCertsFilePath      string
	TLSValidateHostname        *bool
	TLSAllowInsecureConnection *bool
	ListenerName               string
}

// NewPulsarClientConfig reads the client configuration from src. The keys are the variable
// names without the PULSAR_ prefix, lower cased ("service_url").
func NewPulsarClientConfig(src ConfigSource) (PulsarClientConfig, error) {
	cfg := PulsarClientConfig{
		ServiceURL:             DefaultPulsarServiceURL,
		OperationTimeout:       DefaultPulsarOperationTimeout,
		IOThreads:              DefaultPulsarIOThreads,
		MessageListenerThreads: DefaultPulsarListenerThreads,
	}

	if v := stringOf(src, "service_url"); v != "" {
		cfg.ServiceURL = v
	}
	if n, ok := positiveInt(src, "operation_timeout_seconds"); ok {
		cfg.OperationTimeout = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt(src, "io_threads"); ok {
		cfg.IOThreads = n
	}
	if n, ok := positiveInt(src, "message_listener_threads"); ok {
		cfg.MessageListenerThreads = n
	}
	if n, ok := positiveInt(src, "concurrent_lookup_request"); ok {
		cfg.ConcurrentLookupRequest = &n
	}
	if n, ok := positiveInt(src, "stats_interval_in_seconds"); ok {
		d := time.Duration(n) * time.Second
		cfg.StatsInterval = &d
	}

	cfg.UseTLS = boolOf(src, "use_tls")
	cfg.TLSValidateHostname = boolOf(src, "tls_validate_hostname")
	cfg.TLSAllowInsecureConnection = boolOf(src, "tls_allow_insecure_connection")
	cfg.TLSTrustCertsFilePath = stringOf(src, "tls_trust_certs_file_path")
	cfg.ListenerName = stringOf(src, "listener_name")

	auth, err := pulsarAuthFrom(src)
	if err != nil {
		return PulsarClientConfig{}, err
	}
	cfg.Auth = auth

	return cfg, nil
}

func pulsarAuthFrom(src ConfigSource) (*PulsarAuth, error) {
	typ := strings.ToLower(stringOf(src, "auth_type"))
	if typ == "" {
		return nil, nil
	}

	auth := &PulsarAuth{Type: typ}
	switch typ {
	case PulsarAuthTLS:
		auth.TLSCertificatePath = stringOf(src, "tls_certificate_path")
		auth.TLSPrivateKeyPath = stringOf(src, "tls_private_key_path")
	case PulsarAuthAthenz:
		if raw := stringOf(src, "athenz_params"); raw != "" {
			if err := jsoncodec.Unmarshal([]byte(raw), &auth.Athenz); err != nil {
				return nil, fmt.Errorf("%w: PULSAR_ATHENZ_PARAMS: %w", ErrInvalidOption, err)
			}
		}
	case PulsarAuthToken:
		auth.Token = stringOf(src, "token")
	case PulsarAuthOAuth2:
		params, err := oauth2Params(src)
		if err != nil {
			return nil, err
		}
		auth.OAuth2 = params
	default:
		return nil, fmt.Errorf("%w: %q", ErrPulsarAuthTypeUnknown, typ)
	}
	return auth, nil
}

// oauth2Params maps the PULSAR_OAUTH2_* variables onto the Go client's OAuth2 parameters.
//
// The Go client only reads client credentials from the key file named by privateKey, so a
// client secret without PULSAR_OAUTH2_PRIVATE_KEY is passed as an inline data:// key file.
func oauth2Params(src ConfigSource) (map[string]string, error) {
	params := map[string]string{}
	for key, param := range map[string]string{
		"oauth2_type":        "type",
		"oauth2_issuer_url":  "issuerUrl",
		"oauth2_client_id":   "clientId",
		"oauth2_private_key": "privateKey",
		"oauth2_audience":    "audience",
		"oauth2_scope":       "scope",
	} {
		if v := stringOf(src, key); v != "" {
			params[param] = v
		}
	}

	secret := stringOf(src, "oauth2_client_secret")
	if secret == "" {
		return params, nil
	}
	if params["privateKey"] != "" {
		slog.Warn("PULSAR_OAUTH2_CLIENT_SECRET ignored, credentials come from PULSAR_OAUTH2_PRIVATE_KEY")
		return params, nil
	}

	keyFile, err := jsoncodec.Marshal(map[string]string{
		"type":          "client_credentials",
		"client_id":     params["clientId"],
		"client_secret": secret,
		"issuer_url":    params["issuerUrl"],
	})
	if err != nil {
		return nil, fmt.Errorf("%w: PULSAR_OAUTH2_CLIENT_SECRET: %w", ErrInvalidOption, err)
	}
	params["privateKey"] = "data://" + string(keyFile)
	return params, nil
}

// ServiceURLWithScheme returns ServiceURL, switched to pulsar+ssl:// when UseTLS is true.
func (c PulsarClientConfig) ServiceURLWithScheme() string {
	if c.UseTLS != nil && *c.UseTLS {
		if rest, ok := strings.CutPrefix(c.ServiceURL, "pulsar://"); ok {
			return "pulsar+ssl://" + rest
		}
	}
	return c.ServiceURL
}

// ClientOptions maps the configuration onto the Go client options.
func (c PulsarClientConfig) ClientOptions(logger *slog.Logger, reg prometheus.Registerer) (pulsar.ClientOptions, error) {
	opts := pulsar.ClientOptions{
		URL:                     c.ServiceURLWithScheme(),
		OperationTimeout:        c.OperationTimeout,
		MaxConnectionsPerBroker: c.IOThreads,
		TLSTrustCertsFilePath:   c.TLSTrustCertsFilePath,
		ListenerName:            c.ListenerName,
		MetricsRegisterer:       reg,
	}
	if c.TLSValidateHostname != nil {
		opts.TLSValidateHostname = *c.TLSValidateHostname
	}
	if c.TLSAllowInsecureConnection != nil {
		opts.TLSAllowInsecureConnection = *c.TLSAllowInsecureConnection
	}
	if logger != nil {
		opts.Logger = newPulsarLogger(logger)
	}

	auth, err := c.authentication()
	if err != nil {
		return pulsar.ClientOptions{}, err
	}
	opts.Authentication = auth

	return opts, nil
}

func (c PulsarClientConfig) authentication() (pulsar.Authentication, error) {
	if c.Auth == nil {
		return nil, nil
	}

	var (
		auth pulsar.Authentication
		err  error
	)
	switch c.Auth.Type {
	case PulsarAuthTLS:
		auth = pulsar.NewAuthenticationTLS(c.Auth.TLSCertificatePath, c.Auth.TLSPrivateKeyPath)
	case PulsarAuthAthenz:
		auth = pulsar.NewAuthenticationAthenz(c.Auth.Athenz)
	case PulsarAuthToken:
		auth = pulsar.NewAuthenticationToken(c.Auth.Token)
	case PulsarAuthOAuth2:
		auth = pulsar.NewAuthenticationOAuth2(c.Auth.OAuth2)
	default:
		err = fmt.Errorf("%w: %q", ErrPulsarAuthTypeUnknown, c.Auth.Type)
	}
	return auth, err
}

// LogValue keeps secrets out of the startup log.
func (c PulsarClientConfig) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("service_url", c.ServiceURLWithScheme()),
		slog.Duration("operation_timeout", c.OperationTimeout),
		slog.Int("io_threads", c.IOThreads),
		slog.Int("message_listener_threads", c.MessageListenerThreads),
	}
	if c.Auth != nil {
		attrs = append(attrs, slog.String("auth_type", c.Auth.Type))
	}
	if c.ConcurrentLookupRequest != nil {
		attrs = append(attrs, slog.Int("concurrent_lookup_request", *c.ConcurrentLookupRequest))
	}
	if c.StatsInterval != nil {
		attrs = append(attrs, slog.Duration("stats_interval", *c.StatsInterval))
	}
	if c.ListenerName != "" {
		attrs = append(attrs, slog.String("listener_name", c.ListenerName))
	}
	return slog.GroupValue(attrs...)
}

func stringOf(src ConfigSource, key string) string {
	if src == nil || !src.IsSet(key) {
		return ""
	}
	return strings.TrimSpace(src.GetString(key))
}

func positiveInt(src ConfigSource, key string) (int, bool) {
	n, err := strconv.Atoi(stringOf(src, key))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// boolOf is true only for "true"; any other value leaves the client default in place.
func boolOf(src ConfigSource, key string) *bool {
	if !strings.EqualFold(stringOf(src, key), "true") {
		return nil
	}
	b := true
	return &b
}
