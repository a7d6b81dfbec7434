package cascade_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-compare/engine/cascade"
	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/engine/form"
	"github.com/WessleyAI/wessley-compare/pkg/metrics"
)

// fakeAPI serves canned options by path. Paths with a gate block until the
// gate is closed.
type fakeAPI struct {
	mu        sync.Mutex
	responses map[string][]cascade.Option
	errs      map[string]error
	gates     map[string]chan struct{}
	calls     []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		responses: make(map[string][]cascade.Option),
		errs:      make(map[string]error),
		gates:     make(map[string]chan struct{}),
	}
}

func (a *fakeAPI) set(path string, labels ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	opts := make([]cascade.Option, len(labels))
	for i, l := range labels {
		opts[i] = cascade.Option{Label: l, Value: l}
	}
	a.responses[path] = opts
}

func (a *fakeAPI) fail(path string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs[path] = err
}

func (a *fakeAPI) gate(path string) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan struct{})
	a.gates[path] = ch
	return ch
}

func (a *fakeAPI) callCount(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == path {
			n++
		}
	}
	return n
}

func (a *fakeAPI) FetchOptions(ctx context.Context, req cascade.Request) ([]cascade.Option, error) {
	a.mu.Lock()
	a.calls = append(a.calls, req.Path)
	gate := a.gates[req.Path]
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.errs[req.Path]; err != nil {
		return nil, err
	}
	opts, ok := a.responses[req.Path]
	if !ok {
		return []cascade.Option{}, nil
	}
	return opts, nil
}

type harness struct {
	form *form.Form
	api  *fakeAPI
	reg  *metrics.Registry
	ctrl *cascade.Controller
}

func setup(t *testing.T, def cascade.ChainDef, prepare func(*fakeAPI)) *harness {
	t.Helper()
	h := &harness{
		form: form.New(def.IDs(1)...),
		api:  newFakeAPI(),
		reg:  metrics.New(),
	}
	if prepare != nil {
		prepare(h.api)
	}
	ctrl, err := cascade.Initialize(context.Background(), def, cascade.Deps{
		Surface: h.form,
		Fetcher: h.api,
		Metrics: cascade.NewMetrics(h.reg),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ctrl.Close)
	h.ctrl = ctrl
	ctrl.Wait()
	return h
}

func (h *harness) state(t *testing.T, id string) form.State {
	t.Helper()
	st, ok := h.form.State(id)
	if !ok {
		t.Fatalf("no element %s", id)
	}
	return st
}

func (h *harness) selectValue(t *testing.T, id, value string) {
	t.Helper()
	if err := h.form.Select(id, value); err != nil {
		t.Fatalf("select %s=%q: %v", id, value, err)
	}
	h.ctrl.Wait()
}

func (h *harness) expectOptions(t *testing.T, id string, enabled bool, labels ...string) {
	t.Helper()
	st := h.state(t, id)
	if got := st.Labels(); !reflect.DeepEqual(got, labels) {
		t.Fatalf("%s: expected options %q, got %q", id, labels, got)
	}
	if st.Enabled != enabled {
		t.Fatalf("%s: expected enabled=%v", id, enabled)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func hondaAPI(a *fakeAPI) {
	a.set("/api/makes", "Honda", "Toyota")
	a.set("/api/years/Honda", "2020", "2021", "2022")
	a.set("/api/years/Toyota", "2019", "2020")
	a.set("/api/models/Honda/2021", "Civic", "Accord")
}

func TestInitializeLoadsRootOnly(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), hondaAPI)

	h.expectOptions(t, "vehicle1Make", true, "Select Make", "Honda", "Toyota")
	h.expectOptions(t, "vehicle1Year", false, "Select Year")
	h.expectOptions(t, "vehicle1Model", false, "Select Model")
	if h.api.callCount("/api/makes") != 1 {
		t.Fatalf("expected exactly one makes fetch, got calls %v", h.api.calls)
	}
}

func TestHondaEndToEnd(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), hondaAPI)

	h.selectValue(t, "vehicle1Make", "Honda")
	h.expectOptions(t, "vehicle1Year", true, "Select Year", "2020", "2021", "2022")
	h.expectOptions(t, "vehicle1Model", false, "Select Model")

	h.selectValue(t, "vehicle1Year", "2021")
	h.expectOptions(t, "vehicle1Model", true, "Select Model", "Civic", "Accord")

	want := cascade.Selection{"make": "Honda", "year": "2021", "model": ""}
	if got := h.ctrl.Selection(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if h.ctrl.Complete() {
		t.Fatal("chain should not be complete without a model")
	}
}

func TestEmptySelectionClearsDownstream(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), hondaAPI)
	h.selectValue(t, "vehicle1Make", "Honda")
	h.selectValue(t, "vehicle1Year", "2021")
	h.selectValue(t, "vehicle1Model", "Civic")

	h.selectValue(t, "vehicle1Year", "")
	h.expectOptions(t, "vehicle1Model", false, "Select Model")
	h.expectOptions(t, "vehicle1Year", true, "Select Year", "2020", "2021", "2022")

	h.selectValue(t, "vehicle1Make", "")
	h.expectOptions(t, "vehicle1Year", false, "Select Year")
	h.expectOptions(t, "vehicle1Model", false, "Select Model")
	for _, id := range []string{"vehicle1Year", "vehicle1Model"} {
		if st := h.state(t, id); st.Selection != "" {
			t.Fatalf("%s kept selection %q", id, st.Selection)
		}
	}
}

func TestUpstreamChangeClearsDeeperFields(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), hondaAPI)
	h.selectValue(t, "vehicle1Make", "Honda")
	h.selectValue(t, "vehicle1Year", "2021")

	h.selectValue(t, "vehicle1Make", "Toyota")
	h.expectOptions(t, "vehicle1Year", true, "Select Year", "2019", "2020")
	h.expectOptions(t, "vehicle1Model", false, "Select Model")
}

func TestFailedFetchShowsErrorAndNotifiesOnce(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), func(a *fakeAPI) {
		hondaAPI(a)
		a.fail("/api/years/Toyota", &domain.FetchError{Path: "/api/years/Toyota", Status: 500, Kind: domain.ErrStatus})
	})

	h.selectValue(t, "vehicle1Make", "Toyota")
	h.expectOptions(t, "vehicle1Year", false, "Error loading years")
	h.expectOptions(t, "vehicle1Model", false, "Select Model")

	notes := h.form.Notifications()
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %v", notes)
	}
	if notes[0] != "Failed to load years for Toyota" || !strings.Contains(notes[0], "Toyota") {
		t.Fatalf("unexpected notification %q", notes[0])
	}
	if !strings.Contains(h.reg.Render(), `cascade_fetch_failures_total{field="Year",kind="status"} 1`) {
		t.Fatalf("failure not counted:\n%s", h.reg.Render())
	}

	// Re-selecting an upstream value retries.
	h.selectValue(t, "vehicle1Make", "Honda")
	h.expectOptions(t, "vehicle1Year", true, "Select Year", "2020", "2021", "2022")
}

func TestAllFailureKindsLookTheSame(t *testing.T) {
	for _, err := range []error{
		errors.New("dial tcp: connection refused"),
		&domain.FetchError{Path: "/api/years/Honda", Status: 404, Kind: domain.ErrStatus},
		&domain.FetchError{Path: "/api/years/Honda", Kind: domain.ErrMalformedPayload},
	} {
		t.Run(err.Error(), func(t *testing.T) {
			h := setup(t, cascade.MakeYearModel(), func(a *fakeAPI) {
				hondaAPI(a)
				a.fail("/api/years/Honda", err)
			})
			h.selectValue(t, "vehicle1Make", "Honda")
			h.expectOptions(t, "vehicle1Year", false, "Error loading years")
			if n := h.form.Notifications(); len(n) != 1 || n[0] != "Failed to load years for Honda" {
				t.Fatalf("unexpected notifications %v", n)
			}
		})
	}
}

func TestModelFailureNamesAllUpstreamSelections(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), func(a *fakeAPI) {
		hondaAPI(a)
		a.fail("/api/models/Honda/2020", errors.New("timeout"))
	})
	h.selectValue(t, "vehicle1Make", "Honda")
	h.selectValue(t, "vehicle1Year", "2020")
	if n := h.form.Notifications(); len(n) != 1 || n[0] != "Failed to load models for Honda 2020" {
		t.Fatalf("unexpected notifications %v", n)
	}
}

func TestSupersededResponseIsDiscarded(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), hondaAPI)
	slowToyota := h.api.gate("/api/years/Toyota")
	fastHonda := h.api.gate("/api/years/Honda")

	if err := h.form.Select("vehicle1Make", "Toyota"); err != nil {
		t.Fatal(err)
	}
	if err := h.form.Select("vehicle1Make", "Honda"); err != nil {
		t.Fatal(err)
	}

	close(fastHonda)
	waitFor(t, "honda years", func() bool {
		st, _ := h.form.State("vehicle1Year")
		return st.Enabled
	})
	close(slowToyota)
	h.ctrl.Wait()

	h.expectOptions(t, "vehicle1Year", true, "Select Year", "2020", "2021", "2022")
	if !strings.Contains(h.reg.Render(), `cascade_stale_responses_total{field="Year"} 1`) {
		t.Fatalf("stale response not counted:\n%s", h.reg.Render())
	}
}

func TestStaleFailureDoesNotNotify(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), func(a *fakeAPI) {
		hondaAPI(a)
		a.fail("/api/years/Toyota", errors.New("boom"))
	})
	gate := h.api.gate("/api/years/Toyota")

	h.form.Select("vehicle1Make", "Toyota")
	h.selectValue(t, "vehicle1Make", "")
	close(gate)
	h.ctrl.Wait()

	h.expectOptions(t, "vehicle1Year", false, "Select Year")
	if n := h.form.Notifications(); len(n) != 0 {
		t.Fatalf("stale failure must not notify, got %v", n)
	}
}

func TestInFlightModelFetchDiscardedWhenMakeChanges(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), hondaAPI)
	h.selectValue(t, "vehicle1Make", "Honda")
	gate := h.api.gate("/api/models/Honda/2021")
	h.form.Select("vehicle1Year", "2021")

	h.selectValue(t, "vehicle1Make", "Toyota")
	close(gate)
	h.ctrl.Wait()

	h.expectOptions(t, "vehicle1Model", false, "Select Model")
}

func TestReselectingSameMakeIsIdempotent(t *testing.T) {
	once := setup(t, cascade.MakeYearModel(), hondaAPI)
	once.selectValue(t, "vehicle1Make", "Honda")

	twice := setup(t, cascade.MakeYearModel(), hondaAPI)
	twice.selectValue(t, "vehicle1Make", "Honda")
	twice.selectValue(t, "vehicle1Make", "Honda")

	for _, id := range cascade.MakeYearModel().IDs(1) {
		a, b := once.state(t, id), twice.state(t, id)
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("%s differs: once=%+v twice=%+v", id, a, b)
		}
	}
}

func TestSentinelPrependedOnceAndDuplicatesDropped(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), func(a *fakeAPI) {
		a.mu.Lock()
		a.responses["/api/makes"] = []cascade.Option{
			{Label: "Select Make", Value: ""},
			{Label: "Kia", Value: "Kia"},
			{Label: "Audi", Value: "Audi"},
			{Label: "Kia again", Value: "Kia"},
		}
		a.mu.Unlock()
	})
	h.expectOptions(t, "vehicle1Make", true, "Select Make", "Kia", "Audi")
}

func TestTypeChainEncodesPathAndShowsLoading(t *testing.T) {
	h := setup(t, cascade.MakeTypeYearModel(), func(a *fakeAPI) {
		a.set("/api/makes", "Ford")
		a.set("/api/vehicle-types/Ford", "Truck", "Sport Utility/Crossover")
		a.set("/api/years/Ford", "2020")
		a.set("/api/models/Ford/2020/Sport%20Utility%2FCrossover", "Bronco Sport")
	})
	h.selectValue(t, "vehicle1Make", "Ford")
	h.expectOptions(t, "vehicle1Type", true, "Select Type", "Truck", "Sport Utility/Crossover")
	h.expectOptions(t, "vehicle1Year", false, "Select Year")

	h.selectValue(t, "vehicle1Type", "Sport Utility/Crossover")
	gate := h.api.gate("/api/models/Ford/2020/Sport%20Utility%2FCrossover")
	h.selectValue(t, "vehicle1Year", "")
	h.form.Select("vehicle1Year", "2020")

	waitFor(t, "loading placeholder", func() bool {
		st, _ := h.form.State("vehicle1Model")
		return len(st.Options) == 1 && st.Options[0].Label == "Loading models..."
	})
	if st := h.state(t, "vehicle1Model"); st.Enabled {
		t.Fatal("field must stay disabled while loading")
	}
	close(gate)
	h.ctrl.Wait()
	h.expectOptions(t, "vehicle1Model", true, "Select Model", "Bronco Sport")
}

func TestYearFirstChainUsesStaticRoot(t *testing.T) {
	h := setup(t, cascade.YearMakeModel(), func(a *fakeAPI) {
		a.set("/api/makes/2021", "Honda")
		a.set("/api/models/Honda/2021", "Civic")
	})
	st := h.state(t, "vehicle1Year")
	if !st.Enabled || len(st.Options) != len(domain.ModelYears())+1 {
		t.Fatalf("unexpected year field %d options enabled=%v", len(st.Options), st.Enabled)
	}
	if len(h.api.calls) != 0 {
		t.Fatalf("static root must not fetch, got %v", h.api.calls)
	}

	h.selectValue(t, "vehicle1Year", "2021")
	h.expectOptions(t, "vehicle1Make", true, "Select Make", "Honda")
	h.selectValue(t, "vehicle1Make", "Honda")
	h.expectOptions(t, "vehicle1Model", true, "Select Model", "Civic")
}

func TestFetchLatencyRecorded(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), func(a *fakeAPI) {
		a.set("/api/makes", "Honda")
		a.set("/api/years/Honda", "2020")
	})
	h.selectValue(t, "vehicle1Make", "Honda")
	out := h.reg.Render()
	for _, want := range []string{
		`cascade_fetch_duration_seconds_count{field="Make"} 1`,
		`cascade_fetch_duration_seconds_count{field="Year"} 1`,
		`cascade_fetches_total{field="Year"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestYearFirstFailuresNameTheYear(t *testing.T) {
	h := setup(t, cascade.YearMakeModel(), func(a *fakeAPI) {
		a.fail("/api/makes/2020", errors.New("connection refused"))
		a.set("/api/makes/2021", "Honda")
		a.fail("/api/models/Honda/2021", errors.New("connection refused"))
	})

	h.selectValue(t, "vehicle1Year", "2020")
	h.expectOptions(t, "vehicle1Make", false, "Error loading makes")
	h.selectValue(t, "vehicle1Year", "2021")
	h.selectValue(t, "vehicle1Make", "Honda")
	h.expectOptions(t, "vehicle1Model", false, "Error loading models")

	want := []string{"Failed to load makes for year 2020", "Failed to load models for Honda 2021"}
	if n := h.form.Notifications(); !reflect.DeepEqual(n, want) {
		t.Fatalf("expected %q, got %q", want, n)
	}
}

func TestRootFailureAndReload(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), func(a *fakeAPI) {
		a.fail("/api/makes", errors.New("connection refused"))
	})
	h.expectOptions(t, "vehicle1Make", false, "Error loading makes")
	if n := h.form.Notifications(); len(n) != 1 || n[0] != "Failed to load makes for vehicle 1" {
		t.Fatalf("unexpected notifications %v", n)
	}

	h.api.fail("/api/makes", nil)
	h.api.set("/api/makes", "Honda")
	h.ctrl.Reload()
	h.ctrl.Wait()
	h.expectOptions(t, "vehicle1Make", true, "Select Make", "Honda")
}

func TestOnComplete(t *testing.T) {
	f := form.New(cascade.MakeYearModel().IDs(1)...)
	api := newFakeAPI()
	hondaAPI(api)

	var got []cascade.Selection
	ctrl, err := cascade.Initialize(context.Background(), cascade.MakeYearModel(), cascade.Deps{
		Surface:    f,
		Fetcher:    api,
		OnComplete: func(s cascade.Selection) { got = append(got, s) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	ctrl.Wait()

	for _, step := range [][2]string{{"vehicle1Make", "Honda"}, {"vehicle1Year", "2021"}, {"vehicle1Model", "Civic"}, {"vehicle1Model", ""}} {
		if err := f.Select(step[0], step[1]); err != nil {
			t.Fatal(err)
		}
		ctrl.Wait()
	}

	if len(got) != 1 {
		t.Fatalf("expected one completion, got %v", got)
	}
	want := cascade.Selection{"make": "Honda", "year": "2021", "model": "Civic"}
	if !reflect.DeepEqual(got[0], want) {
		t.Fatalf("expected %v, got %v", want, got[0])
	}
}

func TestCloseStopsListeningAndDropsInFlight(t *testing.T) {
	h := setup(t, cascade.MakeYearModel(), hondaAPI)
	gate := h.api.gate("/api/years/Honda")
	h.form.Select("vehicle1Make", "Honda")

	h.ctrl.Close()
	h.ctrl.Close()
	close(gate)
	h.ctrl.Wait()
	h.expectOptions(t, "vehicle1Year", false, "Select Year")

	h.form.Select("vehicle1Make", "Toyota")
	h.ctrl.Wait()
	if h.api.callCount("/api/years/Toyota") != 0 {
		t.Fatal("closed controller must not fetch")
	}
}

func TestTwoChainsAreIndependent(t *testing.T) {
	def := cascade.MakeYearModel()
	f := form.New(append(def.IDs(1), def.IDs(2)...)...)
	api := newFakeAPI()
	hondaAPI(api)

	var ctrls []*cascade.Controller
	for i := 1; i <= 2; i++ {
		c, err := cascade.Initialize(context.Background(), def, cascade.Deps{Surface: f, Fetcher: api, Instance: i})
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		c.Wait()
		ctrls = append(ctrls, c)
	}
	if ctrls[1].Name() != "vehicle 2" {
		t.Fatalf("unexpected name %q", ctrls[1].Name())
	}

	f.Select("vehicle1Make", "Honda")
	f.Select("vehicle2Make", "Toyota")
	ctrls[0].Wait()
	ctrls[1].Wait()
	f.Select("vehicle2Make", "")
	ctrls[1].Wait()

	st1, _ := f.State("vehicle1Year")
	st2, _ := f.State("vehicle2Year")
	if !st1.Enabled || len(st1.Options) != 4 {
		t.Fatalf("vehicle 1 disturbed by vehicle 2: %+v", st1)
	}
	if st2.Enabled || len(st2.Options) != 1 {
		t.Fatalf("vehicle 2 not cleared: %+v", st2)
	}
}

func TestInitializeErrors(t *testing.T) {
	def := cascade.MakeYearModel()
	if _, err := cascade.Initialize(context.Background(), def, cascade.Deps{Fetcher: newFakeAPI()}); err == nil {
		t.Fatal("expected error without surface")
	}
	_, err := cascade.Initialize(context.Background(), def, cascade.Deps{Surface: form.New("vehicle1Make"), Fetcher: newFakeAPI()})
	if !errors.Is(err, form.ErrNoElement) {
		t.Fatalf("expected missing element error, got %v", err)
	}
	_, err = cascade.Initialize(context.Background(), cascade.ChainDef{Role: "vehicle"}, cascade.Deps{Surface: form.New(), Fetcher: newFakeAPI()})
	if !errors.Is(err, cascade.ErrInvalidChain) {
		t.Fatalf("expected ErrInvalidChain, got %v", err)
	}
}

func TestNotifierMayReenterController(t *testing.T) {
	def := cascade.MakeYearModel()
	f := form.New(def.IDs(1)...)
	api := newFakeAPI()
	api.fail("/api/makes", errors.New("down"))

	var ctrl *cascade.Controller
	var seen []string
	notifier := notifyFunc(func(msg string) {
		seen = append(seen, msg)
		_ = ctrl.Selection()
	})
	ctrl, err := cascade.Initialize(context.Background(), def, cascade.Deps{Surface: f, Fetcher: api, Notifier: notifier})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	ctrl.Wait()
	if len(seen) != 1 || len(f.Notifications()) != 0 {
		t.Fatalf("explicit notifier should replace the surface: seen=%v form=%v", seen, f.Notifications())
	}
}

type notifyFunc func(string)

func (n notifyFunc) Notify(msg string) { n(msg) }

func ExampleElementID() {
	fmt.Println(cascade.ElementID("vehicle", 2, "Model"))
	// Output: vehicle2Model
}

func TestRequestsCarryLabelKeys(t *testing.T) {
	def := cascade.MakeYearModel()
	f := form.New(def.IDs(1)...)
	var mu sync.Mutex
	keys := map[string][]string{}
	fetch := cascade.FetcherFunc(func(_ context.Context, req cascade.Request) ([]cascade.Option, error) {
		mu.Lock()
		keys[req.Path] = req.Keys
		mu.Unlock()
		return []cascade.Option{{Label: "Honda", Value: "Honda"}, {Label: "2021", Value: "2021"}}, nil
	})
	ctrl, err := cascade.Initialize(context.Background(), def, cascade.Deps{Surface: f, Fetcher: fetch})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()
	ctrl.Wait()
	f.Select("vehicle1Make", "Honda")
	ctrl.Wait()
	f.Select("vehicle1Year", "2021")
	ctrl.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, path := range []string{"/api/makes", "/api/years/Honda", "/api/models/Honda/2021"} {
		if !reflect.DeepEqual(keys[path], def.Fields[i].Keys) {
			t.Fatalf("%s: expected keys %v, got %v", path, def.Fields[i].Keys, keys[path])
		}
	}
}
