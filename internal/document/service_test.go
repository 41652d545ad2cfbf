package document_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"docvault.org/internal/access"
	"docvault.org/internal/audit"
	"docvault.org/internal/document"
	"docvault.org/internal/mask"
	"docvault.org/internal/protect"
	"docvault.org/internal/render"
	"docvault.org/internal/storage"
	"docvault.org/internal/store/memory"
	"docvault.org/internal/template"
)

type fixture struct {
	svc     *document.Service
	reg     *template.Registry
	store   *memory.Store
	backend *storage.Memory
	protect *protect.Service
	tmpl    template.Template
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	backend := storage.NewMemory(storage.DefaultMaxObjectSize)

	reg, err := template.NewRegistry(store, backend)
	require.NoError(t, err)

	recorder, err := audit.NewRecorder(store)
	require.NoError(t, err)

	prot, err := protect.NewService(protect.NewMemoryVault())
	require.NoError(t, err)

	svc, err := document.NewService(store, reg, backend, recorder, render.NewEngine(), prot,
		document.WithMasker(mask.New(mask.PolicyDefault)))
	require.NoError(t, err)

	tmpl, err := reg.Create(context.Background(), template.CreateInput{
		Name:     "Weekly Report",
		Category: "reports",
		Format:   template.FormatMarkdown,
		Content:  []byte("# Weekly report {{report_date}}\n\nDepartment: {{department}}"),
		Placeholders: []template.Placeholder{
			{Name: "report_date", Kind: template.KindDate, Required: true},
			{Name: "department", Kind: template.KindText, Required: true},
		},
		CreatedBy: "u-author",
	})
	require.NoError(t, err)

	return &fixture{svc: svc, reg: reg, store: store, backend: backend, protect: prot, tmpl: tmpl}
}

func (f *fixture) generate(t *testing.T, in document.GenerateInput) document.Document {
	t.Helper()
	if in.TemplateID == "" {
		in.TemplateID = f.tmpl.ID
	}
	if in.Data == nil {
		in.Data = map[string]any{"report_date": "2026-03-14", "department": "ops"}
	}
	if in.CreatedBy == "" {
		in.CreatedBy = "u-author"
	}
	if in.Type == "" {
		in.Type = "reports"
	}
	doc, err := f.svc.Generate(context.Background(), in)
	require.NoError(t, err)
	return doc
}

func (f *fixture) trail(t *testing.T, documentID string) []audit.Entry {
	t.Helper()
	entries, err := f.svc.AuditTrail(context.Background(), audit.Filter{DocumentID: documentID})
	require.NoError(t, err)
	return entries
}

func TestGenerateCreatesDocumentWithStoredBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{Title: "Weekly Report Ops"})

	require.Equal(t, document.StatusGenerated, doc.Status)
	require.Equal(t, access.SensitivityInternal, doc.Sensitivity)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, f.tmpl.ID, doc.TemplateID)
	require.Equal(t, "text/html", doc.MIME)

	content, err := f.backend.Get(ctx, doc.Path)
	require.NoError(t, err)
	require.Contains(t, string(content), "2026-03-14")
	require.Contains(t, string(content), "ops")
	require.NoError(t, storage.VerifyDigest(content, doc.Hash))
	require.Equal(t, int64(len(content)), doc.Size)

	entries := f.trail(t, doc.ID)
	require.Len(t, entries, 1)
	require.Equal(t, access.ActionGenerate, entries[0].Action)
	require.Equal(t, audit.OutcomeSuccess, entries[0].Outcome)
}

func TestGenerateReportsAllMissingPlaceholders(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Generate(context.Background(), document.GenerateInput{
		TemplateID: f.tmpl.ID,
		Data:       map[string]any{},
		CreatedBy:  "u-author",
		Type:       "reports",
	})
	var missing *document.MissingPlaceholderError
	require.ErrorAs(t, err, &missing)
	require.ElementsMatch(t, []string{"report_date", "department"}, missing.Names)
}

func TestGenerateReportsSingleMissingPlaceholder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Generate(context.Background(), document.GenerateInput{
		TemplateID: f.tmpl.ID,
		Data:       map[string]any{"department": "Eng"},
		CreatedBy:  "u-author",
		Type:       "reports",
	})
	var missing *document.MissingPlaceholderError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"report_date"}, missing.Names)
}

func TestEveryOperationWritesOneAuditRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{})
	require.Len(t, f.trail(t, doc.ID), 1) // generate

	_, err := f.svc.Get(ctx, doc.ID, "u-mgr", access.RoleManager)
	require.NoError(t, err)
	require.Len(t, f.trail(t, doc.ID), 2)

	_, err = f.svc.Download(ctx, doc.ID, "u-mgr", access.RoleManager)
	require.NoError(t, err)
	require.Len(t, f.trail(t, doc.ID), 3)

	require.NoError(t, f.svc.Archive(ctx, doc.ID, "u-mgr", access.RoleManager, true))
	require.Len(t, f.trail(t, doc.ID), 4)

	require.NoError(t, f.svc.Delete(ctx, doc.ID, "u-mgr", access.RoleManager))
	require.Len(t, f.trail(t, doc.ID), 5)
}

func TestGenerateRejectsMistypedPlaceholder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Generate(context.Background(), document.GenerateInput{
		TemplateID: f.tmpl.ID,
		Data:       map[string]any{"report_date": "not a date", "department": "ops"},
		CreatedBy:  "u-author",
		Type:       "reports",
	})
	require.ErrorIs(t, err, document.ErrInvalidInput)
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first := f.generate(t, document.GenerateInput{IdempotencyKey: "req-7"})
	second := f.generate(t, document.GenerateInput{IdempotencyKey: "req-7"})
	require.Equal(t, first.ID, second.ID)

	_, total, err := f.svc.Search(context.Background(), document.SearchFilter{}, "u-author", access.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestAuditTrailDefaultPageLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		f.generate(t, document.GenerateInput{IdempotencyKey: key})
	}

	recorder, err := audit.NewRecorder(f.store)
	require.NoError(t, err)
	limited, err := document.NewService(f.store, f.reg, f.backend, recorder, render.NewEngine(), f.protect,
		document.WithAuditPageLimit(2))
	require.NoError(t, err)

	entries, err := limited.AuditTrail(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = limited.AuditTrail(ctx, audit.Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 3, "explicit limits pass through")

	entries, err = f.svc.AuditTrail(ctx, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3, "no configured page limit leaves the trail unbounded")
}

// blindRepo misses its first idempotency lookups, reproducing the
// window where a concurrent retry commits between lookup and create.
type blindRepo struct {
	document.Repository
	misses int
}

func (r *blindRepo) FindByIdempotencyKey(ctx context.Context, key string) (document.Document, error) {
	if r.misses > 0 {
		r.misses--
		return document.Document{}, document.ErrNotFound
	}
	return r.Repository.FindByIdempotencyKey(ctx, key)
}

func TestGenerateKeyRaceKeepsWinnerBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recorder, err := audit.NewRecorder(f.store)
	require.NoError(t, err)
	repo := &blindRepo{Repository: f.store, misses: 2}
	svc, err := document.NewService(repo, f.reg, f.backend, recorder, render.NewEngine(), f.protect)
	require.NoError(t, err)

	in := document.GenerateInput{
		TemplateID:     f.tmpl.ID,
		Data:           map[string]any{"report_date": "2026-03-14", "department": "ops"},
		CreatedBy:      "u-author",
		Type:           "reports",
		IdempotencyKey: "retry-1",
	}
	winner, err := svc.Generate(ctx, in)
	require.NoError(t, err)

	// second call enters with a stale lookup, loses the key on create
	// and must hand back the winner's document untouched
	retried, err := svc.Generate(ctx, in)
	require.NoError(t, err)
	require.Equal(t, winner.ID, retried.ID)

	ok, err := f.backend.Exists(ctx, winner.Path)
	require.NoError(t, err)
	require.True(t, ok, "winner's stored bytes must survive the retry")

	content, err := svc.Download(ctx, winner.ID, "u-mgr", access.RoleManager)
	require.NoError(t, err)
	require.NoError(t, storage.VerifyDigest(content, winner.Hash))

	_, total, err := svc.Search(ctx, document.SearchFilter{}, "u-author", access.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestGenerateEncrypts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{Encrypt: true})
	require.True(t, doc.Encrypted)
	require.NotEmpty(t, doc.KeyRef)

	sealed, err := f.backend.Get(ctx, doc.Path)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "ops")

	plain, err := f.protect.Decrypt(ctx, sealed, doc.KeyRef)
	require.NoError(t, err)
	require.Contains(t, string(plain), "ops")
}

func TestGenerateMasksPersonalData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{
		MaskPII: true,
		Data:    map[string]any{"report_date": "2026-03-14", "department": "hr: contact a.b@example.kz"},
	})

	content, err := f.backend.Get(ctx, doc.Path)
	require.NoError(t, err)
	require.NotContains(t, string(content), "a.b@example.kz")
	require.Contains(t, string(content), "@example.kz")
	require.Equal(t, true, doc.Metadata["masked"])
}

func TestGenerateFromInactiveTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.reg.Deactivate(ctx, f.tmpl.ID))
	_, err := f.svc.Generate(ctx, document.GenerateInput{
		TemplateID: f.tmpl.ID,
		Data:       map[string]any{"report_date": "2026-03-14", "department": "ops"},
		CreatedBy:  "u-author",
		Type:       "reports",
	})
	require.ErrorIs(t, err, template.ErrNotFound)
}

func TestGenerateVersionChains(t *testing.T) {
	f := newFixture(t)

	parent := f.generate(t, document.GenerateInput{})
	child := f.generate(t, document.GenerateInput{ParentID: parent.ID})
	require.Equal(t, 2, child.Version)
	require.Equal(t, parent.ID, child.ParentID)
}

func TestSensitivityDenialLooksLikeNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{Sensitivity: access.SensitivityConfidential})

	_, err := f.svc.Get(ctx, doc.ID, "u-low", access.RoleUser)
	require.ErrorIs(t, err, document.ErrNotFound)
	require.NotErrorIs(t, err, document.ErrAccessDenied)

	entries := f.trail(t, doc.ID)
	last := entries[len(entries)-1]
	require.Equal(t, audit.OutcomeDenied, last.Outcome)
	require.Equal(t, access.ReasonSensitivity, last.Reason)
	require.Equal(t, "u-low", last.UserID)
}

func TestActionDenialIsExplicit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{Sensitivity: access.SensitivityPublic})

	// guests may view public documents but not download them
	_, err := f.svc.Get(ctx, doc.ID, "u-guest", access.RoleGuest)
	require.NoError(t, err)

	_, err = f.svc.Download(ctx, doc.ID, "u-guest", access.RoleGuest)
	require.ErrorIs(t, err, document.ErrAccessDenied)
}

func TestDeletedDocumentIsInvisible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{})
	require.NoError(t, f.svc.Delete(ctx, doc.ID, "u-mgr", access.RoleManager))

	_, err := f.svc.Get(ctx, doc.ID, "u-author", access.RoleAdmin)
	require.ErrorIs(t, err, document.ErrNotFound)
	_, err = f.svc.Download(ctx, doc.ID, "u-author", access.RoleAdmin)
	require.ErrorIs(t, err, document.ErrNotFound)

	// soft delete: the stored bytes and the audit trail remain
	exists, err := f.backend.Exists(ctx, doc.Path)
	require.NoError(t, err)
	require.True(t, exists)
	require.NotEmpty(t, f.trail(t, doc.ID))
}

func TestDownloadDetectsCorruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{})
	f.backend.Corrupt(doc.Path, []byte("tampered"))

	_, err := f.svc.Download(ctx, doc.ID, "u-author", access.RoleUser)
	require.ErrorIs(t, err, storage.ErrIntegrity)

	entries := f.trail(t, doc.ID)
	last := entries[len(entries)-1]
	require.Equal(t, audit.OutcomeFailed, last.Outcome)
	require.Equal(t, "content digest mismatch", last.Reason)
}

func TestArchiveIsOneWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.generate(t, document.GenerateInput{})

	require.NoError(t, f.svc.Archive(ctx, doc.ID, "u-mgr", access.RoleManager, true))

	got, err := f.svc.Get(ctx, doc.ID, "u-mgr", access.RoleManager)
	require.NoError(t, err)
	require.Equal(t, document.StatusArchived, got.Status)
	require.True(t, got.Readonly)
	require.NotNil(t, got.ArchivedAt)

	err = f.svc.Archive(ctx, doc.ID, "u-mgr", access.RoleManager, true)
	require.ErrorIs(t, err, document.ErrInvalidTransition)

	// archived documents can still be deleted
	require.NoError(t, f.svc.Delete(ctx, doc.ID, "u-mgr", access.RoleManager))
	err = f.svc.Archive(ctx, doc.ID, "u-mgr", access.RoleManager, true)
	require.ErrorIs(t, err, document.ErrInvalidTransition)
}

func TestArchiveRequiresManager(t *testing.T) {
	f := newFixture(t)

	doc := f.generate(t, document.GenerateInput{})
	err := f.svc.Archive(context.Background(), doc.ID, "u-user", access.RoleUser, true)
	require.ErrorIs(t, err, document.ErrAccessDenied)
}

func TestSearchOmitsDocumentsSilently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.generate(t, document.GenerateInput{Title: "Public brief", Sensitivity: access.SensitivityPublic})
	secret := f.generate(t, document.GenerateInput{Title: "Board minutes", Sensitivity: access.SensitivitySecret})

	results, total, err := f.svc.Search(ctx, document.SearchFilter{}, "u-guest", access.RoleGuest)
	require.NoError(t, err)
	require.Equal(t, 2, total, "total counts matches before role filtering")
	require.Len(t, results, 1)
	require.Equal(t, "Public brief", results[0].Title)

	// the omitted document gained no audit row from the search
	for _, e := range f.trail(t, secret.ID) {
		require.NotEqual(t, "u-guest", e.UserID)
	}

	all, total, err := f.svc.Search(ctx, document.SearchFilter{}, "u-admin", access.RoleAdmin)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, all, 2)
}

func TestSearchFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.generate(t, document.GenerateInput{Title: "Ops weekly", Tags: []string{"weekly", "ops"}})
	f.generate(t, document.GenerateInput{Title: "Finance monthly", Type: "finance"})

	byType, _, err := f.svc.Search(ctx, document.SearchFilter{Type: "finance"}, "u-a", access.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	require.Equal(t, "Finance monthly", byType[0].Title)

	byQuery, _, err := f.svc.Search(ctx, document.SearchFilter{Query: "weekly"}, "u-a", access.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	require.Contains(t, byQuery[0].Tags, "ops")
}
