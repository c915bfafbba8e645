// Package httpdrv is a polling HTTP driver: on each tick it performs one
// HTTP request against a configured URL and decodes the JSON response body
// into a raw sample. It has no discovery story — a REST endpoint has no
// browsable address space — so it implements only driver.Driver.
package httpdrv

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/jeeves-cluster-organization/acqgateway/internal/driver"
	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

const defaultPollingInterval = 5 * time.Second

// Config is the driver-specific configuration decoded out of a SourceSpec.
type Config struct {
	URL             string            `mapstructure:"url"`
	Method          string            `mapstructure:"method"`
	Headers         map[string]string `mapstructure:"headers"`
	PollingInterval time.Duration     `mapstructure:"pollingInterval"`
	RequestTimeout  time.Duration     `mapstructure:"requestTimeout"`
}

// Driver polls an HTTP endpoint on an interval and forwards the decoded JSON
// body as a raw sample.
type Driver struct {
	config     Config
	httpClient *http.Client

	stopCh chan struct{}
	doneCh chan struct{}

	connected bool
}

// New returns a Driver using the standard library's default transport.
func New() *Driver {
	return &Driver{httpClient: &http.Client{}}
}

// WithHTTPClient overrides the underlying *http.Client, for tests pointed at
// an httptest.Server.
func (d *Driver) WithHTTPClient(c *http.Client) *Driver {
	d.httpClient = c
	return d
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &cfg,
	})
	if err != nil {
		return cfg, err
	}
	return cfg, decoder.Decode(raw)
}

func (d *Driver) Validate(config map[string]any) error {
	cfg, err := decodeConfig(config)
	if err != nil {
		return model.NewConnectorError("", model.KindConfig, "invalid http config", err)
	}
	if cfg.URL == "" {
		return model.NewConnectorError("", model.KindConfig, "http config missing url", nil)
	}
	return nil
}

func (d *Driver) Initialize(config map[string]any) error {
	cfg, err := decodeConfig(config)
	if err != nil {
		return model.NewConnectorError("", model.KindConfig, "invalid http config", err)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = defaultPollingInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = cfg.PollingInterval
	}
	d.config = cfg
	if d.httpClient == nil {
		d.httpClient = &http.Client{}
	}
	return nil
}

func (d *Driver) Start(ctx context.Context, events chan<- driver.Event) error {
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.connected = true

	events <- driver.ConnectedEvent()

	go d.pollLoop(ctx, events)
	return nil
}

func (d *Driver) pollLoop(ctx context.Context, events chan<- driver.Event) {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			sample, err := d.poll(ctx)
			if err != nil {
				events <- driver.ErrorEvent(model.KindDriverProtocol, err.Error())
				continue
			}
			events <- driver.SampleEvent(sample)
		}
	}
}

func (d *Driver) poll(ctx context.Context) (value.Value, error) {
	reqCtx, cancel := context.WithTimeout(ctx, d.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, d.config.Method, d.config.URL, nil)
	if err != nil {
		return value.Null(), err
	}
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return value.Null(), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return value.Null(), err
	}
	if resp.StatusCode >= 300 {
		return value.Null(), &httpStatusError{status: resp.StatusCode, body: body}
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return value.Null(), err
	}
	return value.FromAny(decoded), nil
}

type httpStatusError struct {
	status int
	body   []byte
}

func (e *httpStatusError) Error() string {
	return "http poll: unexpected status " + http.StatusText(e.status) + ": " + string(bytes.TrimSpace(e.body))
}

func (d *Driver) Stop(ctx context.Context) error {
	d.connected = false
	if d.stopCh == nil {
		return nil
	}
	close(d.stopCh)

	select {
	case <-d.doneCh:
	case <-ctx.Done():
	}
	return nil
}

func (d *Driver) Status() driver.Status {
	return driver.Status{
		Connected: d.connected,
		Stats:     map[string]any{"url": d.config.URL},
	}
}

func init() {
	driver.Register(model.DriverHTTP, nil, func() driver.Driver {
		return New()
	})
}

var _ driver.Driver = (*Driver)(nil)
