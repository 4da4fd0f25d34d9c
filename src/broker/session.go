package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"broker-observer/src/analysis"
	"broker-observer/src/helpers"
	"broker-observer/src/interfaces"
	"broker-observer/src/logger"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

const (
	validSleep   = 60 * time.Second
	publishSleep = 15 * time.Second
	refreshSleep = 45 * time.Second
)

// requestPlan is one fully prepared upstream HTTP call. Adapters build plans;
// the session executes them.
type requestPlan struct {
	method  string
	url     string
	headers map[string]string
	body    string
	timeout time.Duration
}

// adapter is the broker-specific half of a session: it shapes requests and
// parses responses, nothing else.
type adapter interface {
	marginPlan(token string) requestPlan
	positionPlan(token string) requestPlan

	// parseMargin returns ok=false when the broker reported no data.
	parseMargin(body []byte) (analysis.MarginNumbers, bool, error)

	// parsePositions returns ok=false when the broker reported no data.
	parsePositions(body []byte) ([]models.MPositionRow, bool, error)
}

// -----------------------------------------------------------------------------

// Deps bundles the collaborators shared by every session.
type Deps struct {
	Store    interfaces.IStateStore
	Tokens   interfaces.IStateStore
	Reshaper *analysis.Reshaper
	Expiry   *analysis.ExpiryProvider
	Logger   *logger.Logger

	// Client is swappable for tests. Timeouts come from request plans, not
	// from the client.
	Client *http.Client
}

// Session is one (broker, account) unit: it owns the account's token, its
// validity supervision loop, and its request execution.
type Session struct {
	brokerName string
	account    string
	adapter    adapter

	store    interfaces.IStateStore
	tokens   interfaces.IStateStore
	reshaper *analysis.Reshaper
	logger   *logger.Logger
	client   *http.Client

	mu          sync.Mutex
	token       string
	maxUsed     float64
	lastUsedPct string

	tokenValid atomic.Bool

	cancelValidation context.CancelFunc
	validationDone   chan struct{}
}

// -----------------------------------------------------------------------------

// NewSession builds a session for one supported broker. The account id is
// normalized to upper case everywhere except the token-update channel, which
// carries it lower case.
func NewSession(brokerName, account string, deps Deps) (*Session, error) {
	account = strings.ToUpper(account)

	s := &Session{
		brokerName: brokerName,
		account:    account,
		store:      deps.Store,
		tokens:     deps.Tokens,
		reshaper:   deps.Reshaper,
		logger:     deps.Logger.Named(brokerName + ":" + account),
		client:     deps.Client,
	}
	if s.client == nil {
		s.client = &http.Client{}
	}

	switch brokerName {
	case "kite":
		s.adapter = &kiteAdapter{}
	case "shoonya":
		s.adapter = &shoonyaAdapter{account: account, expiry: deps.Expiry}
	case "neo":
		s.adapter = &neoAdapter{}
	default:
		return nil, fmt.Errorf("unsupported broker %q", brokerName)
	}

	return s, nil
}

// -----------------------------------------------------------------------------

func (s *Session) Broker() string    { return s.brokerName }
func (s *Session) AccountID() string { return s.account }
func (s *Session) Tag() string       { return s.brokerName + ":" + s.account }
func (s *Session) TokenValid() bool  { return s.tokenValid.Load() }

func (s *Session) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// -----------------------------------------------------------------------------

// MarginBook fetches and normalizes the account's margin state. The used
// high-water mark is tracked here so it survives individual fetch failures
// but resets with the session.
func (s *Session) MarginBook(ctx context.Context) (*models.MMarginBook, error) {
	if !s.tokenValid.Load() {
		s.logger.Debug("Skipping margin fetch, token invalid")
		return nil, nil
	}

	body, err := s.execute(ctx, s.adapter.marginPlan(s.currentToken()), false)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	nums, ok, err := s.adapter.parseMargin(body)
	if err != nil {
		return nil, helpers.NewMalformedResponseError("margin response for "+s.Tag(), err)
	}
	if !ok {
		return nil, nil
	}

	s.mu.Lock()
	if nums.Used > s.maxUsed {
		s.maxUsed = nums.Used
	}
	nums.MaxUsed = s.maxUsed
	s.mu.Unlock()

	mb := s.reshaper.MarginBook(s.Tag(), nums)

	s.mu.Lock()
	s.lastUsedPct = mb.UsedPct
	s.mu.Unlock()

	return mb, nil
}

// -----------------------------------------------------------------------------

// PositionBook fetches, enriches and summarizes the account's positions.
func (s *Session) PositionBook(ctx context.Context) (*models.MPositionSummary, error) {
	if !s.tokenValid.Load() {
		s.logger.Debug("Skipping position fetch, token invalid")
		return nil, nil
	}

	body, err := s.execute(ctx, s.adapter.positionPlan(s.currentToken()), false)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	rows, ok, err := s.adapter.parsePositions(body)
	if err != nil {
		return nil, helpers.NewMalformedResponseError("position response for "+s.Tag(), err)
	}
	if !ok {
		return nil, nil
	}

	summary, err := s.reshaper.PositionBook(s.Tag(), rows)
	if err != nil {
		return nil, err
	}

	// Margin utilization rides along so consolidated views keep showing it
	// even when the margin endpoint has a bad cycle.
	s.mu.Lock()
	summary.MarginUsed = s.lastUsedPct
	s.mu.Unlock()

	return summary, nil
}

// -----------------------------------------------------------------------------

// execute runs one upstream call. Upstream failures (timeouts, non-200) are
// "no data this cycle", not errors: the return is (nil, nil) and the event is
// logged at info, or debug for validation probes.
func (s *Session) execute(ctx context.Context, plan requestPlan, validation bool) ([]byte, error) {
	timeout := plan.timeout
	if validation {
		timeout = timeout * 3 / 2
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rd io.Reader
	if plan.body != "" {
		rd = strings.NewReader(plan.body)
	}

	req, err := http.NewRequestWithContext(reqCtx, plan.method, plan.url, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range plan.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logUpstream(validation, "Request to %s failed: %v", plan.url, err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logUpstream(validation, "Request to %s returned status %d", plan.url, resp.StatusCode)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		s.logUpstream(validation, "Reading response from %s failed: %v", plan.url, err)
		return nil, nil
	}

	return body, nil
}

func (s *Session) logUpstream(validation bool, format string, args ...interface{}) {
	if validation {
		s.logger.Debug(format, args...)
	} else {
		s.logger.Info(format, args...)
	}
}

// -----------------------------------------------------------------------------

// StartValidation resolves the initial token and launches the supervision
// loop. A missing token is not fatal: the loop will keep requesting one.
func (s *Session) StartValidation(ctx context.Context, wg *sync.WaitGroup) error {
	if err := s.refreshToken(ctx); err != nil {
		s.logger.Warning("No stored token yet: %v", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelValidation = cancel
	s.validationDone = make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(s.validationDone)
		s.runValidation(loopCtx)
	}()

	s.logger.Info("Validation loop started")
	return nil
}

// StopValidation stops the supervision loop and waits for it to exit.
// Validity is cleared so a later start forces revalidation.
func (s *Session) StopValidation() {
	if s.cancelValidation == nil {
		return
	}
	s.cancelValidation()
	<-s.validationDone
	s.cancelValidation = nil
	s.tokenValid.Store(false)
	s.logger.Info("Validation loop stopped")
}

// -----------------------------------------------------------------------------

// runValidation is the token state machine. A valid token is re-probed every
// minute; an invalid one triggers a token-update request, then a refresh from
// the token store after the upstream browser had time to respond.
func (s *Session) runValidation(ctx context.Context) {
	wasValid := false

	for ctx.Err() == nil {
		valid := s.probe(ctx)
		s.tokenValid.Store(valid)

		switch {
		case valid:
			if !wasValid {
				s.logger.Info("Token is now valid")
			}
			wasValid = true
			sleep(ctx, validSleep)

		default:
			if wasValid {
				s.logger.Warning("Token is no longer valid")
			}
			wasValid = false

			if err := s.store.Publish(ctx, models.ChannelTokenUpdate, strings.ToLower(s.account)); err != nil {
				s.logger.Error("Publishing token update request failed: %v", err)
			}
			sleep(ctx, publishSleep)

			if err := s.refreshToken(ctx); err != nil {
				s.logger.Debug("Token refresh failed: %v", err)
			}
			sleep(ctx, refreshSleep)
		}
	}
}

// probe runs one validation call against the margin endpoint. Any panic in
// an adapter is contained here and treated as an invalid token.
func (s *Session) probe(ctx context.Context) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Validation probe panicked: %v", r)
			valid = false
		}
	}()

	token := s.currentToken()
	if token == "" {
		return false
	}

	body, err := s.execute(ctx, s.adapter.marginPlan(token), true)
	if err != nil || body == nil {
		return false
	}

	_, ok, err := s.adapter.parseMargin(body)
	return err == nil && ok
}

// -----------------------------------------------------------------------------

// sleep waits for the duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
