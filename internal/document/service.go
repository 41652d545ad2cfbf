package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docvault.org/internal/access"
	"docvault.org/internal/audit"
	"docvault.org/internal/ids"
	"docvault.org/internal/obs"
	"docvault.org/internal/storage"
	"docvault.org/internal/template"
)

// DefaultSearchPageSize caps Search results per page.
const DefaultSearchPageSize = 50

// Service is the document lifecycle manager. Every read and write is
// gated by the access engine and recorded in the access log; an audit
// write failure aborts the operation it was recording.
type Service struct {
	repo               Repository
	templates          *template.Registry
	backend            storage.Backend
	recorder           *audit.Recorder
	renderer           Renderer
	protect            ProtectionService
	masker             Masker
	defaultSensitivity access.Sensitivity
	auditPageLimit     int
}

// Option configures optional collaborators on the Service.
type Option func(*Service)

// WithMasker installs the personal-data masker used when a generate
// request asks for masked output.
func WithMasker(m Masker) Option {
	return func(s *Service) { s.masker = m }
}

// WithAuditPageLimit sets the page size used when an audit trail query
// carries no limit of its own. Caller-supplied limits are always
// honored; zero keeps trail queries unbounded.
func WithAuditPageLimit(n int) Option {
	return func(s *Service) { s.auditPageLimit = n }
}

// NewService wires the lifecycle manager. The protection service is
// optional; requesting encryption or watermarking without one fails the
// generate call.
func NewService(repo Repository, templates *template.Registry, backend storage.Backend, recorder *audit.Recorder, renderer Renderer, protect ProtectionService, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("document repository is required")
	}
	if templates == nil {
		return nil, errors.New("template registry is required")
	}
	if backend == nil {
		return nil, errors.New("storage backend is required")
	}
	if recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	s := &Service{
		repo:               repo,
		templates:          templates,
		backend:            backend,
		recorder:           recorder,
		renderer:           renderer,
		protect:            protect,
		defaultSensitivity: access.SensitivityInternal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GenerateInput describes one generation request.
type GenerateInput struct {
	TemplateID    string
	Data          map[string]any
	CreatedBy     string
	Type          string
	Title         string
	Sensitivity   access.Sensitivity // zero selects the default (internal)
	Encrypt       bool
	WatermarkText string
	// MaskPII redacts recognised personal data in textual output.
	MaskPII bool
	Tags          []string
	RetentionDays int
	ParentID      string
	// IdempotencyKey deduplicates client retries: a repeated key
	// returns the already-created document instead of a new row.
	IdempotencyKey string
}

// Generate renders a document from the current version of a template,
// stores the bytes, and inserts the metadata row plus its audit entry
// as one atomic unit. Any failure after the storage write rolls the
// write back.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (Document, error) {
	if strings.TrimSpace(in.TemplateID) == "" || strings.TrimSpace(in.CreatedBy) == "" || strings.TrimSpace(in.Type) == "" {
		return Document{}, fmt.Errorf("%w: template id, creator and type are required", ErrInvalidInput)
	}

	if in.IdempotencyKey != "" {
		if existing, err := s.repo.FindByIdempotencyKey(ctx, in.IdempotencyKey); err == nil {
			return existing, nil
		} else if !errors.Is(err, ErrNotFound) {
			return Document{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	tmpl, content, err := s.templates.Get(ctx, in.TemplateID, 0)
	if err != nil {
		return Document{}, err
	}
	if !tmpl.Active {
		return Document{}, fmt.Errorf("template %s is inactive: %w", in.TemplateID, template.ErrNotFound)
	}

	if err := checkPlaceholders(tmpl.Placeholders, in.Data); err != nil {
		return Document{}, err
	}

	rendered, err := s.renderer.Render(ctx, content, tmpl.Format, in.Data)
	if err != nil {
		return Document{}, fmt.Errorf("%w: template %s: %v", ErrRenderFailed, in.TemplateID, err)
	}

	if in.MaskPII {
		if s.masker == nil {
			return Document{}, fmt.Errorf("%w: no masker configured", ErrInvalidInput)
		}
		if tmpl.Format == template.FormatHTML || tmpl.Format == template.FormatMarkdown {
			rendered = []byte(s.masker.Apply(string(rendered)))
		}
	}

	if in.WatermarkText != "" {
		if s.protect == nil {
			return Document{}, fmt.Errorf("%w: no protection service configured", ErrProtectionFailed)
		}
		rendered, err = s.protect.Watermark(ctx, rendered, in.WatermarkText)
		if err != nil {
			return Document{}, fmt.Errorf("%w: watermark: %v", ErrProtectionFailed, err)
		}
	}

	keyRef := ""
	if in.Encrypt {
		if s.protect == nil {
			return Document{}, fmt.Errorf("%w: no protection service configured", ErrProtectionFailed)
		}
		rendered, keyRef, err = s.protect.Encrypt(ctx, rendered)
		if err != nil {
			return Document{}, fmt.Errorf("%w: encrypt: %v", ErrProtectionFailed, err)
		}
	}

	sensitivity := in.Sensitivity
	if !sensitivity.Valid() {
		sensitivity = s.defaultSensitivity
	}

	version := 1
	if in.ParentID != "" {
		parent, err := s.repo.Get(ctx, in.ParentID)
		if err != nil {
			return Document{}, fmt.Errorf("parent document %s: %w", in.ParentID, err)
		}
		version = parent.Version + 1
	}

	now := time.Now().UTC()
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = in.Type
	}
	ext, mime := outputFormat(tmpl.Format)
	filename := fmt.Sprintf("%s_%s_%d.%s", storage.SanitizeName(title), now.Format("20060102150405"), version, ext)
	key := storage.DocumentKey(in.Type, now, filename)

	path, err := s.backend.Put(ctx, key, rendered)
	if err != nil {
		return Document{}, fmt.Errorf("store document: %w", err)
	}

	doc := Document{
		ID:              ids.New(),
		Title:           title,
		TemplateID:      tmpl.ID,
		TemplateVersion: tmpl.CurrentVersion,
		Type:            in.Type,
		Status:          StatusGenerated,
		Sensitivity:     sensitivity,
		Path:            path,
		Hash:            storage.Digest(rendered),
		Size:            int64(len(rendered)),
		MIME:            mime,
		InputData:       in.Data,
		Metadata: map[string]any{
			"tags":      in.Tags,
			"watermark": in.WatermarkText,
			"masked":    in.MaskPII,
		},
		Version:        version,
		ParentID:       in.ParentID,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      in.CreatedBy,
		Encrypted:      in.Encrypt,
		KeyRef:         keyRef,
		RetentionDays:  in.RetentionDays,
		IdempotencyKey: in.IdempotencyKey,
	}

	entry := audit.NewEntry(doc.ID, in.CreatedBy, access.ActionGenerate, audit.OutcomeSuccess, "")
	if err := s.repo.Create(ctx, &doc, &entry); err != nil {
		if errors.Is(err, ErrIdempotencyConflict) && in.IdempotencyKey != "" {
			// A concurrent retry won the key after our lookup. The
			// winner's row may reference the very path we just wrote, so
			// return its document and delete our bytes only when the
			// winner stored elsewhere.
			existing, lookupErr := s.repo.FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if lookupErr == nil {
				if existing.Path != path {
					_ = s.backend.Delete(ctx, path)
				}
				return existing, nil
			}
			return Document{}, fmt.Errorf("create document: %w", err)
		}
		// no metadata row may point at absent bytes and no bytes may
		// exist without a row: roll back the storage write
		_ = s.backend.Delete(ctx, path)
		return Document{}, fmt.Errorf("create document: %w", err)
	}
	audit.LogEvent(ctx, entry)
	obs.IncGenerated()
	return doc, nil
}

// Get returns document metadata after a view check. Deleted documents
// are invisible: callers get the same not-found shape as for an unknown
// id. A sensitivity-gate denial is reported the same way, so existence
// never leaks to roles that may not view the document at all; the audit
// row still carries the true reason.
func (s *Service) Get(ctx context.Context, id, userID string, role access.Role) (Document, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.Status == StatusDeleted {
		if err := s.record(ctx, id, userID, access.ActionView, audit.OutcomeFailed, "document deleted"); err != nil {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err := s.authorize(ctx, doc, userID, role, access.ActionView); err != nil {
		return Document{}, err
	}
	if err := s.record(ctx, id, userID, access.ActionView, audit.OutcomeSuccess, ""); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Download returns the stored bytes after a download check and an
// integrity recheck. Corrupted content is never returned.
func (s *Service) Download(ctx context.Context, id, userID string, role access.Role) ([]byte, error) {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == StatusDeleted {
		if err := s.record(ctx, id, userID, access.ActionDownload, audit.OutcomeFailed, "document deleted"); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err := s.authorize(ctx, doc, userID, role, access.ActionDownload); err != nil {
		return nil, err
	}

	content, err := s.backend.Get(ctx, doc.Path)
	if err != nil {
		if recErr := s.record(ctx, id, userID, access.ActionDownload, audit.OutcomeFailed, err.Error()); recErr != nil {
			return nil, recErr
		}
		return nil, fmt.Errorf("download document %s: %w", id, err)
	}
	if err := storage.VerifyDigest(content, doc.Hash); err != nil {
		if recErr := s.record(ctx, id, userID, access.ActionDownload, audit.OutcomeFailed, "content digest mismatch"); recErr != nil {
			return nil, recErr
		}
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	if err := s.record(ctx, id, userID, access.ActionDownload, audit.OutcomeSuccess, ""); err != nil {
		return nil, err
	}
	return content, nil
}

// Search filters at the data layer, then silently drops rows the role
// cannot view - omitted rows produce no denial and no audit entry. One
// audit row is written per returned document. The returned total is the
// data-layer match count before role filtering.
func (s *Service) Search(ctx context.Context, f SearchFilter, userID string, role access.Role) ([]Summary, int, error) {
	if f.Limit <= 0 || f.Limit > DefaultSearchPageSize {
		f.Limit = DefaultSearchPageSize
	}
	docs, total, err := s.repo.Search(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("search documents: %w", err)
	}
	out := make([]Summary, 0, len(docs))
	for _, doc := range docs {
		decision := access.Decide(role, access.ActionView, doc.Sensitivity)
		if !decision.Allowed {
			continue
		}
		if err := s.record(ctx, doc.ID, userID, access.ActionView, audit.OutcomeSuccess, ""); err != nil {
			return nil, 0, err
		}
		out = append(out, doc.summary())
	}
	return out, total, nil
}

// Archive moves a document to archived, marking it read-only by
// default. Archiving twice fails with ErrInvalidTransition: the state
// machine has no archived-to-archived edge.
func (s *Service) Archive(ctx context.Context, id, userID string, role access.Role, setReadonly bool) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, doc, userID, role, access.ActionArchive); err != nil {
		return err
	}

	now := time.Now().UTC()
	entry := audit.NewEntry(id, userID, access.ActionArchive, audit.OutcomeSuccess, "")
	change := StatusChange{
		To:         StatusArchived,
		Readonly:   setReadonly,
		ArchivedAt: &now,
		UpdatedBy:  userID,
		UpdatedAt:  now,
	}
	if err := s.repo.Transition(ctx, id, []Status{StatusGenerated}, change, &entry); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			if recErr := s.record(ctx, id, userID, access.ActionArchive, audit.OutcomeFailed, "invalid status transition"); recErr != nil {
				return recErr
			}
		}
		return fmt.Errorf("archive document %s: %w", id, err)
	}
	audit.LogEvent(ctx, entry)

	if setReadonly {
		// best effort: the readonly flag on the row is the source of
		// truth, backends may not enforce it
		if err := s.backend.SetReadonly(ctx, doc.Path, true); err != nil {
			obs.Emit(map[string]any{
				"level": "warn", "msg": "set readonly failed",
				"document_id": id, "error": err.Error(),
			})
		}
	}
	return nil
}

// Delete soft deletes: the row stays, the stored bytes stay, the audit
// trail stays. Content access is barred through the status check in Get
// and Download. A physical purge is a separate out-of-band operation.
func (s *Service) Delete(ctx context.Context, id, userID string, role access.Role) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, doc, userID, role, access.ActionDelete); err != nil {
		return err
	}

	now := time.Now().UTC()
	entry := audit.NewEntry(id, userID, access.ActionDelete, audit.OutcomeSuccess, "")
	change := StatusChange{To: StatusDeleted, UpdatedBy: userID, UpdatedAt: now}
	if err := s.repo.Transition(ctx, id, []Status{StatusGenerated, StatusArchived}, change, &entry); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			if recErr := s.record(ctx, id, userID, access.ActionDelete, audit.OutcomeFailed, "invalid status transition"); recErr != nil {
				return recErr
			}
		}
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	audit.LogEvent(ctx, entry)
	return nil
}

// AuditTrail exposes the access log, ascending by timestamp. Explicit
// pagination passes through untouched; a filter without a limit falls
// back to the configured page size, if any.
func (s *Service) AuditTrail(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if f.Limit <= 0 && s.auditPageLimit > 0 {
		f.Limit = s.auditPageLimit
	}
	return s.recorder.Query(ctx, f)
}

// authorize runs the decision for doc's sensitivity, records a denial
// row when refused, and maps the two gates to their caller-visible
// shapes: a sensitivity denial looks exactly like an unknown id, so
// existence never leaks; an action denial is an explicit refusal.
func (s *Service) authorize(ctx context.Context, doc Document, userID string, role access.Role, action access.Action) error {
	decision := access.Decide(role, action, doc.Sensitivity)
	if decision.Allowed {
		return nil
	}
	if err := s.record(ctx, doc.ID, userID, action, audit.OutcomeDenied, decision.Reason); err != nil {
		return err
	}
	if decision.Reason == access.ReasonSensitivity {
		return fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
	}
	return fmt.Errorf("document %s: %s: %w", doc.ID, decision.Reason, ErrAccessDenied)
}

func (s *Service) record(ctx context.Context, documentID, userID string, action access.Action, outcome audit.Outcome, reason string) error {
	obs.IncDecision(string(action), string(outcome))
	entry := audit.NewEntry(documentID, userID, action, outcome, reason)
	if err := s.recorder.Record(ctx, entry); err != nil {
		return fmt.Errorf("document %s: %w", documentID, err)
	}
	return nil
}

// checkPlaceholders validates supplied data against the declarations:
// all required names must be present, and every supplied value must
// match its declared kind.
func checkPlaceholders(declared []template.Placeholder, data map[string]any) error {
	var missing []string
	for _, ph := range declared {
		value, ok := data[ph.Name]
		if !ok {
			if ph.Required {
				missing = append(missing, ph.Name)
			}
			continue
		}
		if err := ph.CheckValue(value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	if len(missing) > 0 {
		return &MissingPlaceholderError{Names: missing}
	}
	return nil
}

func outputFormat(f template.Format) (ext, mime string) {
	switch f {
	case template.FormatMarkdown, template.FormatHTML:
		return "html", "text/html"
	case template.FormatWord:
		return "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case template.FormatPDF:
		return "pdf", "application/pdf"
	}
	return "bin", "application/octet-stream"
}
