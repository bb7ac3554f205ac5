package cucumber

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH|OPTIONS) path "([^"]*)"$`, s.sendHTTPRequest)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH|OPTIONS) path "([^"]*)" with json body:$`, s.SendHTTPRequestWithJSONBody)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH|OPTIONS) path "([^"]*)" with query "([^"]*)"$`, s.iCallWithQuery)
		ctx.Step(`^I open the event stream at path "([^"]*)"$`, s.iOpenTheEventStream)
		ctx.Step(`^I wait up to "([^"]*)" seconds for an event$`, s.iWaitUpToSecondsForAnEvent)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response "([^"]*)" selection to match "([^"]*)"$`, s.iWaitUpToSecondsForAGETOnPathResponseSelectionToMatch)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)
	})
}

func (s *TestScenario) sendHTTPRequest(method, path string) error {
	return s.SendHTTPRequestWithJSONBody(method, path, nil)
}

func (s *TestScenario) SendHTTPRequestWithJSONBody(method, path string, jsonTxt *godog.DocString) error {
	resp, err := s.do(method, path, jsonTxt)
	if err != nil {
		return err
	}
	session := s.Session()
	defer func() {
		_ = resp.Body.Close()
	}()
	session.Resp = resp
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	session.SetRespBytes(body)
	return nil
}

func (s *TestScenario) iCallWithQuery(method, path, queryString string) error {
	expandedQuery, err := s.Expand(queryString)
	if err != nil {
		return err
	}
	if strings.Contains(path, "?") {
		path = path + "&" + expandedQuery
	} else {
		path = path + "?" + expandedQuery
	}
	return s.sendHTTPRequest(method, path)
}

// do sends one request as the current user. Headers set by earlier steps are
// consumed; Authorization and X-Client-ID stick to the session.
func (s *TestScenario) do(method, path string, jsonTxt *godog.DocString) (resp *http.Response, err error) {
	defer func() {
		switch t := recover().(type) {
		case string:
			err = errors.New(t)
		case error:
			err = t
		}
	}()

	session := s.Session()

	body := &bytes.Buffer{}
	if jsonTxt != nil {
		expanded, err := s.Expand(jsonTxt.Content)
		if err != nil {
			return nil, err
		}
		body.WriteString(expanded)
	}

	expandedPath, err := s.Expand(path)
	if err != nil {
		return nil, err
	}

	fullURL := ""
	expandedPathURL, err := url.Parse(expandedPath)
	if err == nil && expandedPathURL.Scheme != "" {
		fullURL = expandedPath
	} else {
		fullURL = s.Suite.APIURL + expandedPath
	}

	session.Resp = nil
	session.SetRespBytes(nil)

	req, err := http.NewRequestWithContext(context.Background(), method, fullURL, body)
	if err != nil {
		return nil, err
	}

	req.Header = session.Header
	session.Header = http.Header{}

	if req.Header.Get("Authorization") != "" {
		session.Header.Set("Authorization", req.Header.Get("Authorization"))
	} else if session.TestUser != nil && session.TestUser.Subject != "" {
		req.Header.Set("Authorization", "Bearer "+session.TestUser.Subject)
	}
	if clientID := req.Header.Get("X-Client-ID"); clientID != "" {
		session.Header.Set("X-Client-ID", clientID)
	}
	if req.Header.Get("Content-Type") == "" && body.Len() > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	return session.Client.Do(req)
}

// iOpenTheEventStream opens a server-sent event stream that stays open while
// later steps send ordinary requests. Each event's data is decoded as JSON.
func (s *TestScenario) iOpenTheEventStream(path string) error {
	session := s.Session()
	session.CloseEventStream()

	session.Header.Set("Accept", "text/event-stream")
	resp, err := s.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() {
			_ = resp.Body.Close()
		}()
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("event stream answered %d: %s", resp.StatusCode, data)
	}

	events := make(chan interface{}, 16)
	session.EventStream = resp
	session.EventStreamEvents = events
	go readEvents(resp.Body, events)
	return nil
}

// readEvents parses "data:" lines into events until the body closes. Comment
// lines, such as heartbeats, are skipped.
func readEvents(body io.Reader, events chan<- interface{}) {
	defer close(events)
	scanner := bufio.NewScanner(body)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var event interface{}
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				event = data.String()
			}
			data.Reset()
			events <- event
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

// iWaitUpToSecondsForAnEvent makes the next event on the open stream the
// current response.
func (s *TestScenario) iWaitUpToSecondsForAnEvent(timeout float64) error {
	session := s.Session()
	if session.EventStream == nil {
		return fmt.Errorf("no event stream is open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout*float64(time.Second)))
	defer cancel()

	select {
	case event, ok := <-session.EventStreamEvents:
		if !ok {
			return fmt.Errorf("event stream closed")
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		session.SetRespBytes(data)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("no event received within %.1f seconds", timeout)
	}
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	expanded, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, expanded)
	return nil
}

func (s *TestScenario) iWaitUpToSecondsForAGETOnPathResponseSelectionToMatch(timeout float64, path, selection, expected string) error {
	return s.poll(timeout, path, func() error {
		return s.theSelectionFromTheResponseShouldMatch(selection, expected)
	})
}

// poll repeats a GET on path until check passes or timeout seconds elapse.
func (s *TestScenario) poll(timeout float64, path string, check func() error) error {
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))
	interval := time.Duration(timeout * float64(time.Second) / 20)
	var lastErr error
	for {
		err := s.sendHTTPRequest(http.MethodGet, path)
		if err == nil {
			err = check()
			if err == nil {
				return nil
			}
		}
		lastErr = err
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met after %.1f seconds: %w", timeout, lastErr)
		}
		time.Sleep(interval)
	}
}
