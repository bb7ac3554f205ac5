package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/assistant-state/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		v := &vendorSteps{s: s}
		ctx.Step(`^the vendor APIs are (available|unavailable)$`, v.theVendorAPIsAre)
		ctx.Step(`^the vendor URL is stored as \${([^}]*)}$`, v.theVendorURLIsStoredAs)
		ctx.Step(`^the vendor should have received (\d+) requests? on "([^"]*)"$`, v.shouldHaveReceived)
		ctx.Step(`^the last vendor request on "([^"]*)" should contain json:$`, v.lastRequestShouldContain)
		ctx.Before(v.markBaseline)
		ctx.After(v.restore)
	})
}

type vendorSteps struct {
	s       *cucumber.TestScenario
	toggled bool
	// baseline holds per-path request counts at scenario start so assertions
	// only see this scenario's traffic. Features run one scenario at a time.
	baseline map[string]int
}

func (v *vendorSteps) vendor() (*MockVendor, error) {
	mv, ok := v.s.Suite.Extra[MockVendorExtraKey].(*MockVendor)
	if !ok {
		return nil, fmt.Errorf("vendor mock not configured in suite extra %q", MockVendorExtraKey)
	}
	return mv, nil
}

func (v *vendorSteps) theVendorAPIsAre(state string) error {
	mv, err := v.vendor()
	if err != nil {
		return err
	}
	mv.SetAvailable(state == "available")
	v.toggled = true
	return nil
}

func (v *vendorSteps) theVendorURLIsStoredAs(name string) error {
	mv, err := v.vendor()
	if err != nil {
		return err
	}
	v.s.Variables[name] = mv.Server.URL
	return nil
}

func (v *vendorSteps) markBaseline(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	v.baseline = map[string]int{}
	mv, err := v.vendor()
	if err != nil {
		return ctx, nil
	}
	mv.mu.Lock()
	defer mv.mu.Unlock()
	for path, bodies := range mv.received {
		v.baseline[path] = len(bodies)
	}
	return ctx, nil
}

func (v *vendorSteps) scenarioRequests(path string) ([]string, error) {
	mv, err := v.vendor()
	if err != nil {
		return nil, err
	}
	all := mv.Received(path)
	skip := v.baseline[path]
	if skip > len(all) {
		skip = len(all)
	}
	out := make([]string, 0, len(all)-skip)
	for _, body := range all[skip:] {
		out = append(out, string(body))
	}
	return out, nil
}

func (v *vendorSteps) shouldHaveReceived(expected int, path string) error {
	path, err := v.s.Expand(path)
	if err != nil {
		return err
	}
	got, err := v.scenarioRequests(path)
	if err != nil {
		return err
	}
	if len(got) != expected {
		return fmt.Errorf("vendor received %d requests on %s, expected %d: %v", len(got), path, expected, got)
	}
	return nil
}

func (v *vendorSteps) lastRequestShouldContain(path string, expected *godog.DocString) error {
	path, err := v.s.Expand(path)
	if err != nil {
		return err
	}
	got, err := v.scenarioRequests(path)
	if err != nil {
		return err
	}
	if len(got) == 0 {
		return fmt.Errorf("vendor received no requests on %s", path)
	}
	return v.s.JSONMustContain(got[len(got)-1], expected.Content, true)
}

func (v *vendorSteps) restore(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
	if v.toggled {
		if mv, verr := v.vendor(); verr == nil {
			mv.SetAvailable(true)
		}
	}
	return ctx, nil
}
