package bdd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	registryslot "github.com/chirino/assistant-state/internal/registry/slot"
	"github.com/chirino/assistant-state/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		st := &storageSteps{s: s}
		ctx.Step(`^the "([^"]*)" store of user "([^"]*)" holds:$`, st.holds)
		ctx.Step(`^the "([^"]*)" store of user "([^"]*)" should be stored$`, st.shouldBeStored)
		ctx.Step(`^the "([^"]*)" store of user "([^"]*)" should not be stored$`, st.shouldNotBeStored)
		ctx.Step(`^the "([^"]*)" store of user "([^"]*)" should be stored as json containing:$`, st.shouldBeStoredAsJSONContaining)
		ctx.Step(`^the "([^"]*)" store of user "([^"]*)" should be stored encrypted$`, st.shouldBeStoredEncrypted)
	})
}

type storageSteps struct {
	s *cucumber.TestScenario
}

func (st *storageSteps) key(store, name string) (cucumber.Storage, string, error) {
	storage := st.s.Suite.Storage
	if storage == nil {
		return nil, "", fmt.Errorf("no storage configured for this suite")
	}
	user := st.s.Users[name]
	if user == nil {
		return nil, "", fmt.Errorf("user %q has not authenticated in this scenario", name)
	}
	return storage, registryslot.Key(storage.Prefix(), user.Subject, store), nil
}

func (st *storageSteps) raw(store, name string) (string, bool, error) {
	storage, key, err := st.key(store, name)
	if err != nil {
		return "", false, err
	}
	return storage.Raw(context.Background(), key)
}

// holds plants a payload. The user's stores load on their first request, so
// this must run before the user calls the API in the scenario.
func (st *storageSteps) holds(store, name string, payload *godog.DocString) error {
	storage, key, err := st.key(store, name)
	if err != nil {
		return err
	}
	return storage.Put(context.Background(), key, payload.Content)
}

func (st *storageSteps) shouldBeStored(store, name string) error {
	_, ok, err := st.raw(store, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s of %s is not stored", store, name)
	}
	return nil
}

func (st *storageSteps) shouldNotBeStored(store, name string) error {
	value, ok, err := st.raw(store, name)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s of %s is stored: %s", store, name, value)
	}
	return nil
}

func (st *storageSteps) shouldBeStoredAsJSONContaining(store, name string, expected *godog.DocString) error {
	value, ok, err := st.raw(store, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s of %s is not stored", store, name)
	}
	return st.s.JSONMustContain(value, expected.Content, true)
}

// shouldBeStoredEncrypted checks the backend holds an opaque envelope rather
// than the JSON payload.
func (st *storageSteps) shouldBeStoredEncrypted(store, name string) error {
	value, ok, err := st.raw(store, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s of %s is not stored", store, name)
	}
	if json.Valid([]byte(value)) {
		return fmt.Errorf("%s of %s is stored as plain JSON: %s", store, name, value)
	}
	if _, err := base64.StdEncoding.DecodeString(value); err != nil {
		return fmt.Errorf("%s of %s is not a base64 envelope: %w", store, name, err)
	}
	return nil
}
