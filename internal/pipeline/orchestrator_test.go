package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docs-transducer/constants"
	"github.com/joseph-ayodele/docs-transducer/internal/entity"
	"github.com/joseph-ayodele/docs-transducer/internal/llm"
	"github.com/joseph-ayodele/docs-transducer/internal/notify"
	"github.com/joseph-ayodele/docs-transducer/internal/ocr"
	"github.com/joseph-ayodele/docs-transducer/internal/render"
	"github.com/joseph-ayodele/docs-transducer/internal/repository"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var reUnsafe = regexp.MustCompile(`[^A-Za-z0-9]+`)

func openTestDB(t *testing.T) (repository.TaskRepository, repository.TaskFileRepository) {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + reUnsafe.ReplaceAllString(t.Name(), "_") + "?mode=memory&cache=shared"
	db, err := repository.OpenSQLite(ctx, dsn, discardLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repository.Close(db, nil, discardLogger()) })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewTaskRepository(db, discardLogger()), repository.NewTaskFileRepository(db, discardLogger())
}

// --- fakes ---

type fakeProvider struct {
	mu     sync.Mutex
	texts  map[string]string // by base name; missing = failed
	jobIDs bool
	calls  atomic.Int32
	onCall func()
}

func (f *fakeProvider) Name() constants.OCRModel { return constants.OCRModelVision }

func (f *fakeProvider) Extract(ctx context.Context, in ocr.ImageInput, opts ocr.CallOptions) ocr.Result {
	f.calls.Add(1)
	if f.onCall != nil {
		f.onCall()
	}
	base := filepath.Base(in.Path)
	if f.jobIDs && opts.OnJobSubmitted != nil {
		opts.OnJobSubmitted("job-" + base)
	}
	f.mu.Lock()
	txt, ok := f.texts[base]
	f.mu.Unlock()
	if !ok {
		return ocr.Failed("fake-ocr", "upstream error")
	}
	return ocr.Completed("fake-ocr", txt)
}

type fakeTransformer struct {
	results map[llm.Mode]llm.Result
	calls   map[llm.Mode]int
	hook    func(mode llm.Mode)
}

func newFakeTransformer() *fakeTransformer {
	return &fakeTransformer{
		results: map[llm.Mode]llm.Result{
			llm.ModeTranslate:     {Status: constants.StageCompleted, Model: entity.StrPtr("m"), Text: entity.StrPtr("EN text")},
			llm.ModeTransliterate: {Status: constants.StageCompleted, Model: entity.StrPtr("m"), Text: entity.StrPtr("al-text")},
		},
		calls: map[llm.Mode]int{},
	}
}

func (f *fakeTransformer) Transform(_ context.Context, _ string, mode llm.Mode) llm.Result {
	f.calls[mode]++
	if f.hook != nil {
		f.hook(mode)
	}
	return f.results[mode]
}

func (f *fakeTransformer) total() int {
	return f.calls[llm.ModeTranslate] + f.calls[llm.ModeTransliterate]
}

type fakeRenderer struct {
	inputs []render.Input
}

func (f *fakeRenderer) Render(_ context.Context, in render.Input) (string, error) {
	f.inputs = append(f.inputs, in)
	return "/out/" + in.BaseName + ".docx", nil
}

type fakePages struct {
	pages    []string
	cleanups int
}

func (f *fakePages) Render(context.Context, string) ([]string, func(), error) {
	return f.pages, func() { f.cleanups++ }, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) last() notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type harness struct {
	tasks    repository.TaskRepository
	files    repository.TaskFileRepository
	provider *fakeProvider
	llm      *fakeTransformer
	renderer *fakeRenderer
	pages    *fakePages
	notifier *recordingNotifier
	orch     *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tasks, files := openTestDB(t)
	h := &harness{
		tasks:    tasks,
		files:    files,
		provider: &fakeProvider{texts: map[string]string{}},
		llm:      newFakeTransformer(),
		renderer: &fakeRenderer{},
		pages:    &fakePages{},
		notifier: &recordingNotifier{},
	}
	stage := NewOCRStage(h.pages, ocr.NewPageProcessor(0, discardLogger()), discardLogger())
	h.orch = NewOrchestrator(tasks, files, ocr.NewProviders(h.provider), stage, h.llm, h.renderer, h.notifier, discardLogger())
	return h
}

func (h *harness) addFile(t *testing.T, name string, ft constants.FileType) uuid.UUID {
	t.Helper()
	f, err := h.files.Create(context.Background(), &entity.TaskFile{
		FileName:   name,
		StoredName: uuid.NewString() + filepath.Ext(name),
		Path:       "/uploads/" + name,
		FileType:   ft,
		SizeBytes:  10,
	})
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	return f.ID
}

func (h *harness) addTask(t *testing.T, translate, transliterate bool, fileIDs ...uuid.UUID) uuid.UUID {
	t.Helper()
	task, err := h.tasks.CreateWithFiles(context.Background(), &entity.Task{
		OwnerID: "user-1",
		Parameters: entity.TaskParameters{
			FileIDs:       fileIDs,
			Translate:     translate,
			Transliterate: transliterate,
			OCRModel:      constants.OCRModelVision,
		},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task.ID
}

func (h *harness) load(t *testing.T, id uuid.UUID) *entity.Task {
	t.Helper()
	task, err := h.tasks.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return task
}

// --- tests ---

func TestRun_PreStartCancellationDoesNoWork(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["a.png"] = "نص"
	id := h.addTask(t, true, true, h.addFile(t, "a.png", constants.FileTypeImage))
	if err := h.tasks.RequestCancel(context.Background(), id); err != nil {
		t.Fatalf("RequestCancel: %v", err)
	}

	out := h.orch.Run(context.Background(), id)

	if out.Status != constants.TaskStatusCancelled {
		t.Fatalf("outcome status = %s, want CANCELLED", out.Status)
	}
	if n := h.provider.calls.Load(); n != 0 {
		t.Fatalf("ocr calls = %d, want 0", n)
	}
	if n := h.llm.total(); n != 0 {
		t.Fatalf("llm calls = %d, want 0", n)
	}
	task := h.load(t, id)
	if task.Status != constants.TaskStatusCancelled || task.CompletedAt == nil {
		t.Fatalf("task = %s completed_at=%v", task.Status, task.CompletedAt)
	}
	if task.StartedAt != nil {
		t.Fatal("started_at set for a task that never started")
	}
	if ev := h.notifier.last(); ev.Status != string(constants.TaskStatusCancelled) {
		t.Fatalf("last event = %+v", ev)
	}
}

func TestRun_FileSuccessRequiresTranslationWhenRequested(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["a.png"] = "نص"
	h.llm.results[llm.ModeTranslate] = llm.Result{Status: constants.StageFailed, Reason: entity.StrPtr("rate limited")}
	id := h.addTask(t, true, true, h.addFile(t, "a.png", constants.FileTypeImage))

	out := h.orch.Run(context.Background(), id)

	if out.Status != constants.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", out.Status)
	}
	task := h.load(t, id)
	if len(task.Result) != 1 {
		t.Fatalf("results = %d", len(task.Result))
	}
	fr := task.Result[0]
	if fr.Success {
		t.Fatal("file marked successful although translation failed")
	}
	if fr.Transliteration.Status != constants.StageCompleted {
		t.Fatalf("transliteration = %s", fr.Transliteration.Status)
	}
	// transliteration produced text, so the document is still rendered
	if len(h.renderer.inputs) != 1 || fr.DocxPath == nil {
		t.Fatalf("render calls = %d docx = %v", len(h.renderer.inputs), fr.DocxPath)
	}
}

func TestRun_TransliterationFailureDoesNotFailFile(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["a.png"] = "نص"
	h.llm.results[llm.ModeTransliterate] = llm.Result{Status: constants.StageFailed, Reason: entity.StrPtr("boom")}
	id := h.addTask(t, false, true, h.addFile(t, "a.png", constants.FileTypeImage))

	out := h.orch.Run(context.Background(), id)

	if out.Status != constants.TaskStatusSucceeded {
		t.Fatalf("status = %s, want SUCCEEDED", out.Status)
	}
	fr := h.load(t, id).Result[0]
	if !fr.Success {
		t.Fatal("file should succeed when only transliteration failed")
	}
	if fr.Translation.Status != constants.StageSkipped {
		t.Fatalf("translation = %s, want skipped", fr.Translation.Status)
	}
	if len(h.renderer.inputs) != 0 {
		t.Fatal("nothing beyond OCR text: render must not run")
	}
	if h.llm.calls[llm.ModeTranslate] != 0 {
		t.Fatal("translation ran although not requested")
	}
}

func TestRun_OCRReportsAttemptedBeforeOutcome(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["a.png"] = "نص"
	id := h.addTask(t, false, false, h.addFile(t, "a.png", constants.FileTypeImage))

	h.orch.Run(context.Background(), id)

	var ocrStatuses []any
	h.notifier.mu.Lock()
	for _, ev := range h.notifier.events {
		if ev.Data["stage"] == constants.StageOCR {
			ocrStatuses = append(ocrStatuses, ev.Data["stage_status"])
		}
	}
	h.notifier.mu.Unlock()
	want := []any{constants.StageAttempted, constants.StageCompleted}
	if len(ocrStatuses) != len(want) || ocrStatuses[0] != want[0] || ocrStatuses[1] != want[1] {
		t.Fatalf("ocr stage events = %v, want %v", ocrStatuses, want)
	}
	if got := h.load(t, id).Result[0].OCR.Status; got != constants.StageCompleted {
		t.Fatalf("stored ocr status = %s, want completed", got)
	}
}

func TestRun_TwoFilesSecondOCRFails(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["one.png"] = "الأول"
	f1 := h.addFile(t, "one.png", constants.FileTypeImage)
	f2 := h.addFile(t, "two.png", constants.FileTypeImage)
	id := h.addTask(t, true, false, f1, f2)

	out := h.orch.Run(context.Background(), id)

	if out.Status != constants.TaskStatusFailed || out.Files != 2 || out.Succeeded != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	task := h.load(t, id)
	if task.Status != constants.TaskStatusFailed || task.CompletedAt == nil {
		t.Fatalf("task status = %s", task.Status)
	}
	if len(task.Result) != 2 {
		t.Fatalf("results = %d, want 2", len(task.Result))
	}
	if task.Result[0].FileID != f1 || task.Result[1].FileID != f2 {
		t.Fatal("results not in submission order")
	}
	first := task.Result[0]
	if !first.Success || first.Translation.Status != constants.StageCompleted {
		t.Fatalf("first = %+v", first)
	}
	second := task.Result[1]
	if second.OCR.Status != constants.StageFailed {
		t.Fatalf("second ocr = %s", second.OCR.Status)
	}
	raw, _ := json.Marshal(second.Translation)
	if string(raw) != `{"status":"failed"}` {
		t.Fatalf("second translation = %s, want failed placeholder", raw)
	}
	raw, _ = json.Marshal(second.Transliteration)
	if string(raw) != `{"status":"skipped"}` {
		t.Fatalf("second transliteration = %s, want skipped placeholder", raw)
	}
	if h.llm.calls[llm.ModeTranslate] != 1 {
		t.Fatalf("translate calls = %d, want 1", h.llm.calls[llm.ModeTranslate])
	}
}

func TestRun_DocumentPagesStitched(t *testing.T) {
	h := newHarness(t)
	h.pages.pages = []string{"/tmp/p/page-1.png", "/tmp/p/page-2.png", "/tmp/p/page-3.png"}
	h.provider.texts["page-1.png"] = "A"
	h.provider.texts["page-3.png"] = "C"
	fid := h.addFile(t, "doc.pdf", constants.FileTypeDocument)
	id := h.addTask(t, false, false, fid)

	out := h.orch.Run(context.Background(), id)

	if out.Status != constants.TaskStatusSucceeded {
		t.Fatalf("status = %s (%s)", out.Status, out.Reason)
	}
	fr := h.load(t, id).Result[0]
	if got := entity.StrOrEmpty(fr.OCR.Text); got != "[Page 1]\nA\n\n[Page 3]\nC" {
		t.Fatalf("ocr text = %q", got)
	}
	if h.pages.cleanups != 1 {
		t.Fatalf("page cleanups = %d, want 1", h.pages.cleanups)
	}
	file, err := h.files.GetByID(context.Background(), fid)
	if err != nil {
		t.Fatal(err)
	}
	var meta entity.OCROutcome
	if err := json.Unmarshal(file.Metadata[entity.MetaOCR], &meta); err != nil {
		t.Fatalf("ocr metadata: %v", err)
	}
	if meta.Status != constants.StageCompleted || !strings.HasPrefix(entity.StrOrEmpty(meta.Text), "[Page 1]") {
		t.Fatalf("ocr metadata = %+v", meta)
	}
	if len(h.renderer.inputs) != 0 {
		t.Fatal("OCR-only result must not be rendered")
	}
}

func TestRun_CancellationBetweenStages(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["one.png"] = "x"
	h.provider.texts["two.png"] = "y"
	id := h.addTask(t, true, true,
		h.addFile(t, "one.png", constants.FileTypeImage),
		h.addFile(t, "two.png", constants.FileTypeImage))
	h.llm.hook = func(mode llm.Mode) {
		if mode == llm.ModeTranslate {
			if err := h.tasks.RequestCancel(context.Background(), id); err != nil {
				t.Errorf("RequestCancel: %v", err)
			}
		}
	}

	out := h.orch.Run(context.Background(), id)

	if out.Status != constants.TaskStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", out.Status)
	}
	if h.llm.calls[llm.ModeTransliterate] != 0 {
		t.Fatal("transliteration ran after cancellation")
	}
	if n := h.provider.calls.Load(); n != 1 {
		t.Fatalf("ocr calls = %d, want 1 (second file untouched)", n)
	}
	task := h.load(t, id)
	if task.Status != constants.TaskStatusCancelled || task.CompletedAt == nil {
		t.Fatalf("task = %s", task.Status)
	}
}

func TestRun_TerminalTaskIsNotReprocessed(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["a.png"] = "x"
	id := h.addTask(t, false, false, h.addFile(t, "a.png", constants.FileTypeImage))
	if out := h.orch.Run(context.Background(), id); out.Status != constants.TaskStatusSucceeded {
		t.Fatalf("first run = %s", out.Status)
	}
	out := h.orch.Run(context.Background(), id)
	if out.Status != constants.TaskStatusSucceeded {
		t.Fatalf("second run = %s", out.Status)
	}
	if n := h.provider.calls.Load(); n != 1 {
		t.Fatalf("ocr calls = %d, want 1", n)
	}
}

func TestRun_PanicForcesFailedWithReason(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["a.png"] = "x"
	h.llm.hook = func(llm.Mode) { panic("translator exploded") }
	id := h.addTask(t, true, false, h.addFile(t, "a.png", constants.FileTypeImage))

	out := h.orch.Run(context.Background(), id)

	if out.Status != constants.TaskStatusFailed {
		t.Fatalf("status = %s", out.Status)
	}
	want := "error:PanicError: panic: translator exploded"
	task := h.load(t, id)
	if task.Error == nil || *task.Error != want {
		t.Fatalf("error = %v, want %q", task.Error, want)
	}
}

func TestRun_RegistersRemoteJobHandles(t *testing.T) {
	h := newHarness(t)
	h.provider.jobIDs = true
	h.pages.pages = []string{"/tmp/p/page-1.png", "/tmp/p/page-2.png"}
	h.provider.texts["page-1.png"] = "A"
	h.provider.texts["page-2.png"] = "B"
	fid := h.addFile(t, "doc.pdf", constants.FileTypeDocument)
	id := h.addTask(t, false, false, fid)

	h.orch.Run(context.Background(), id)

	handles := h.load(t, id).Parameters.JobHandles
	if len(handles) != 2 {
		t.Fatalf("job handles = %+v, want 2", handles)
	}
	seen := map[string]bool{}
	for _, hd := range handles {
		if hd.FileID != fid {
			t.Fatalf("handle file = %s", hd.FileID)
		}
		seen[hd.ExternalJobID] = true
	}
	if !seen["job-page-1.png"] || !seen["job-page-2.png"] {
		t.Fatalf("handles = %+v", handles)
	}
}

func TestRun_InFlightCancelStopsAfterOCR(t *testing.T) {
	h := newHarness(t)
	h.provider.texts["a.png"] = "x"
	var id uuid.UUID
	h.provider.onCall = func() {
		if err := h.tasks.RequestCancel(context.Background(), id); err != nil {
			t.Errorf("RequestCancel: %v", err)
		}
	}
	id = h.addTask(t, true, false, h.addFile(t, "a.png", constants.FileTypeImage))

	out := h.orch.Run(context.Background(), id)

	if out.Status != constants.TaskStatusCancelled {
		t.Fatalf("status = %s", out.Status)
	}
	if h.llm.total() != 0 {
		t.Fatal("translation ran after cancellation")
	}
}
