package openstack

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2"

	"github.com/shaiso/Dozilab/internal/domain"
)

// FakeStack — стек в Fake.
type FakeStack struct {
	ID        string
	ProjectID string
	Name      string
	Status    string
	Reason    string
	Outputs   map[string]any
	Template  []byte

	// polls — сколько опросов осталось до завершения текущей операции.
	polls int
}

// Fake — Backend в памяти для тестов.
//
// Операции завершаются через PollsToComplete опросов. Ошибки внедряются
// через FailNext. Вызовы по стеку считаются выполняющимися Latency
// до ответа; MaxInFlight показывает, сколько их пересекалось.
type Fake struct {
	mu sync.Mutex

	// PollsToComplete — сколько опросов занимает операция.
	PollsToComplete int

	// FailCreate — создание стека завершится CREATE_FAILED.
	FailCreate bool

	// FailUpdate — обновление завершится UPDATE_FAILED.
	FailUpdate bool

	// Outputs — выходы, которые получит созданный стек.
	Outputs map[string]any

	// Latency — задержка ответа на вызовы по стеку.
	Latency time.Duration

	stacks      map[string]*FakeStack
	usage       map[string]domain.ProjectUsage
	failures    map[string][]error
	calls       map[string]int
	inFlight    map[string]int
	maxInFlight map[string]int
}

var _ Backend = (*Fake)(nil)

// NewFake создаёт пустой Fake.
func NewFake() *Fake {
	return &Fake{
		stacks:      make(map[string]*FakeStack),
		usage:       make(map[string]domain.ProjectUsage),
		failures:    make(map[string][]error),
		calls:       make(map[string]int),
		inFlight:    make(map[string]int),
		maxInFlight: make(map[string]int),
	}
}

// HTTPError возвращает ошибку OpenStack с кодом code.
func HTTPError(code int, body string) error {
	return gophercloud.ErrUnexpectedResponseCode{
		Method:   http.MethodGet,
		Expected: []int{http.StatusOK},
		Actual:   code,
		Body:     []byte(body),
	}
}

// FailNext ставит ошибку в очередь для операции op
// (create, find, get, update, delete, limits).
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// SetUsage задаёт использование проекта.
func (f *Fake) SetUsage(u domain.ProjectUsage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[u.ProjectID] = u
}

// Calls возвращает число вызовов операции op.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// MaxInFlight возвращает наибольшее число одновременных вызовов по стеку name.
func (f *Fake) MaxInFlight(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight[name]
}

// Stacks возвращает копии существующих стеков.
func (f *Fake) Stacks() []FakeStack {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FakeStack, 0, len(f.stacks))
	for _, s := range f.stacks {
		out = append(out, *s)
	}
	return out
}

// PutStack добавляет стек напрямую (например, созданный до падения воркера).
func (f *Fake) PutStack(s FakeStack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := s
	f.stacks[s.ID] = &cp
}

// enter отмечает вызов по стеку name и выдерживает Latency.
// Возвращённая функция снимает отметку.
func (f *Fake) enter(name string) func() {
	f.mu.Lock()
	f.inFlight[name]++
	f.maxInFlight[name] = max(f.maxInFlight[name], f.inFlight[name])
	latency := f.Latency
	f.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	return func() {
		f.mu.Lock()
		f.inFlight[name]--
		f.mu.Unlock()
	}
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) notFound() error {
	return HTTPError(http.StatusNotFound, `{"error": {"message": "The Stack could not be found."}}`)
}

// CreateStack реализует Backend.
func (f *Fake) CreateStack(_ context.Context, spec StackSpec) (string, error) {
	defer f.enter(spec.Name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("create"); err != nil {
		return "", err
	}
	for _, s := range f.stacks {
		if s.Name == spec.Name && s.ProjectID == spec.ProjectID {
			return "", HTTPError(http.StatusConflict, `{"error": {"message": "stack name already exists"}}`)
		}
	}

	s := &FakeStack{
		ID:        uuid.NewString(),
		ProjectID: spec.ProjectID,
		Name:      spec.Name,
		Status:    "CREATE_IN_PROGRESS",
		Template:  spec.Template,
		Outputs:   maps.Clone(f.Outputs),
		polls:     f.PollsToComplete,
	}
	f.stacks[s.ID] = s
	return s.ID, nil
}

// FindStack реализует Backend.
func (f *Fake) FindStack(_ context.Context, projectID, name string) (*Stack, error) {
	defer f.enter(name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("find"); err != nil {
		return nil, err
	}
	for _, s := range f.stacks {
		if s.Name == name && s.ProjectID == projectID {
			return s.snapshot(), nil
		}
	}
	return nil, f.notFound()
}

// GetStack реализует Backend. Каждый вызов продвигает текущую операцию.
func (f *Fake) GetStack(_ context.Context, ref StackRef) (*Stack, error) {
	defer f.enter(ref.Name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("get"); err != nil {
		return nil, err
	}
	s, ok := f.stacks[ref.ID]
	if !ok {
		return nil, f.notFound()
	}

	if s.polls > 0 {
		s.polls--
	} else {
		switch s.Status {
		case "CREATE_IN_PROGRESS":
			if f.FailCreate {
				s.Status, s.Reason = "CREATE_FAILED", "Resource CREATE failed: No valid host was found"
			} else {
				s.Status = "CREATE_COMPLETE"
			}
		case "UPDATE_IN_PROGRESS":
			if f.FailUpdate {
				s.Status, s.Reason = "UPDATE_FAILED", "Resource UPDATE failed"
			} else {
				s.Status = "UPDATE_COMPLETE"
			}
		case "DELETE_IN_PROGRESS":
			delete(f.stacks, s.ID)
			return nil, f.notFound()
		}
	}
	return s.snapshot(), nil
}

// UpdateStack реализует Backend.
func (f *Fake) UpdateStack(_ context.Context, ref StackRef, spec StackSpec) error {
	defer f.enter(ref.Name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("update"); err != nil {
		return err
	}
	s, ok := f.stacks[ref.ID]
	if !ok {
		return f.notFound()
	}
	s.Status, s.Reason = "UPDATE_IN_PROGRESS", ""
	s.Template = spec.Template
	s.polls = f.PollsToComplete
	return nil
}

// DeleteStack реализует Backend.
func (f *Fake) DeleteStack(_ context.Context, ref StackRef) error {
	defer f.enter(ref.Name)()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("delete"); err != nil {
		return err
	}
	s, ok := f.stacks[ref.ID]
	if !ok {
		return f.notFound()
	}
	s.Status, s.Reason = "DELETE_IN_PROGRESS", ""
	s.polls = f.PollsToComplete
	return nil
}

// Limits реализует Backend. Для неизвестного проекта лимитов нет.
func (f *Fake) Limits(_ context.Context, projectID string) (*domain.ProjectUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("limits"); err != nil {
		return nil, err
	}
	u, ok := f.usage[projectID]
	if !ok {
		u = domain.ProjectUsage{ProjectID: projectID, MaxVMs: -1, MaxVCPUs: -1, MaxRAMMB: -1}
	}
	return &u, nil
}

func (s *FakeStack) snapshot() *Stack {
	return &Stack{
		ID:           s.ID,
		Name:         s.Name,
		Status:       s.Status,
		StatusReason: s.Reason,
		Outputs:      maps.Clone(s.Outputs),
	}
}
