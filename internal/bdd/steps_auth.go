package bdd

import (
	"github.com/chirino/assistant-state/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		a := &authSteps{s: s}
		ctx.Step(`^I am authenticated as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I authenticate as user "([^"]*)"$`, a.iAmAuthenticatedAsUser)
		ctx.Step(`^I am not authenticated$`, a.iAmNotAuthenticated)
		ctx.Step(`^I use the bearer token "([^"]*)"$`, a.iUseTheBearerToken)
	})
}

type authSteps struct {
	s *cucumber.TestScenario
}

// setUser switches to the named user. Testing mode treats the bearer token as
// the user ID, so the ID carries the scenario ID and stays unique across runs
// against the same backend. Features reach it as ${<name>_id}.
func (a *authSteps) setUser(name string) {
	a.s.Suite.Mu.Lock()
	defer a.s.Suite.Mu.Unlock()
	if a.s.Users[name] == nil {
		a.s.Users[name] = &cucumber.TestUser{
			Name:    name,
			Subject: name + "-" + a.s.ID,
		}
	}
	a.s.Variables[name+"_id"] = a.s.Users[name].Subject
	a.s.CurrentUser = name
}

func (a *authSteps) iAmAuthenticatedAsUser(name string) error {
	a.setUser(name)
	a.s.Session().Header.Del("X-Client-ID")
	return nil
}

func (a *authSteps) iAmNotAuthenticated() error {
	a.s.CurrentUser = ""
	a.s.Session().TestUser = nil
	return nil
}

func (a *authSteps) iUseTheBearerToken(token string) error {
	expanded, err := a.s.Expand(token)
	if err != nil {
		return err
	}
	a.s.Session().Header.Set("Authorization", "Bearer "+expanded)
	return nil
}
