package template_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"docvault.org/internal/storage"
	"docvault.org/internal/store/memory"
	"docvault.org/internal/template"
)

func newRegistry(t *testing.T) (*template.Registry, *memory.Store, *storage.Memory) {
	t.Helper()
	store := memory.New()
	backend := storage.NewMemory(storage.DefaultMaxObjectSize)
	reg, err := template.NewRegistry(store, backend)
	require.NoError(t, err)
	return reg, store, backend
}

func TestCreateStoresContentAndVersionOne(t *testing.T) {
	reg, _, backend := newRegistry(t)
	ctx := context.Background()

	tmpl, err := reg.Create(ctx, template.CreateInput{
		Name:     "Weekly Report",
		Category: "reports",
		Format:   template.FormatMarkdown,
		Content:  []byte("# Weekly report for {{report_date}}\n\nDepartment: {{department}}"),
		Placeholders: []template.Placeholder{
			{Name: "report_date", Kind: template.KindDate, Required: true},
			{Name: "department", Kind: template.KindText, Required: true},
		},
		CreatedBy: "u-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, tmpl.CurrentVersion)
	require.True(t, tmpl.Active)
	require.NotEmpty(t, tmpl.ID)

	got, content, err := reg.Get(ctx, tmpl.ID, 0)
	require.NoError(t, err)
	require.Equal(t, tmpl.ID, got.ID)
	require.Contains(t, string(content), "{{report_date}}")

	keys, err := backend.List(ctx, "templates/reports/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	cases := map[string]template.CreateInput{
		"empty name":     {Category: "reports", Format: template.FormatHTML, Content: []byte("<p>x</p>")},
		"empty content":  {Name: "a", Category: "b", Format: template.FormatHTML},
		"bad format":     {Name: "a", Category: "b", Format: template.Format("rtf"), Content: []byte("x")},
		"html no markup": {Name: "a", Category: "b", Format: template.FormatHTML, Content: []byte("plain")},
		"dup placeholder": {Name: "a", Category: "b", Format: template.FormatHTML, Content: []byte("<p>x</p>"),
			Placeholders: []template.Placeholder{
				{Name: "x", Kind: template.KindText},
				{Name: "x", Kind: template.KindText},
			}},
		"bad kind": {Name: "a", Category: "b", Format: template.FormatHTML, Content: []byte("<p>x</p>"),
			Placeholders: []template.Placeholder{{Name: "x", Kind: template.Kind("blob")}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Create(ctx, in)
			require.ErrorIs(t, err, template.ErrInvalidTemplate)
		})
	}
}

func TestCreateVersionKeepsPriorContent(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	tmpl, err := reg.Create(ctx, template.CreateInput{
		Name: "invoice", Category: "finance", Format: template.FormatHTML,
		Content: []byte("<p>v1</p>"), CreatedBy: "u-1",
	})
	require.NoError(t, err)

	v2, err := reg.CreateVersion(ctx, tmpl.ID, []byte("<p>v2</p>"), "new footer", "u-2")
	require.NoError(t, err)
	require.Equal(t, 2, v2.Number)

	_, current, err := reg.Get(ctx, tmpl.ID, 0)
	require.NoError(t, err)
	require.Equal(t, "<p>v2</p>", string(current))

	_, old, err := reg.Get(ctx, tmpl.ID, 1)
	require.NoError(t, err)
	require.Equal(t, "<p>v1</p>", string(old))
}

func TestConcurrentVersionsAreContiguous(t *testing.T) {
	reg, store, _ := newRegistry(t)
	ctx := context.Background()

	tmpl, err := reg.Create(ctx, template.CreateInput{
		Name: "contract", Category: "legal", Format: template.FormatHTML,
		Content: []byte("<p>base</p>"), CreatedBy: "u-1",
	})
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	numbers := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := reg.CreateVersion(ctx, tmpl.ID, []byte(fmt.Sprintf("<p>rev %d</p>", i)), "rev", "u-1")
			if err == nil {
				numbers <- v.Number
			}
		}(i)
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int]bool)
	for n := range numbers {
		require.False(t, seen[n], "duplicate version number %d", n)
		seen[n] = true
	}
	require.Len(t, seen, workers)
	for n := 2; n <= workers+1; n++ {
		require.True(t, seen[n], "missing version number %d", n)
	}

	got, err := store.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Equal(t, workers+1, got.CurrentVersion)
}

func TestCreateVersionOnInactiveTemplate(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	tmpl, err := reg.Create(ctx, template.CreateInput{
		Name: "memo", Category: "hr", Format: template.FormatHTML,
		Content: []byte("<p>x</p>"), CreatedBy: "u-1",
	})
	require.NoError(t, err)

	require.NoError(t, reg.Deactivate(ctx, tmpl.ID))
	require.NoError(t, reg.Deactivate(ctx, tmpl.ID)) // idempotent

	_, err = reg.CreateVersion(ctx, tmpl.ID, []byte("<p>y</p>"), "rev", "u-1")
	require.ErrorIs(t, err, template.ErrNotFound)

	// deactivated templates stay resolvable for existing documents
	_, content, err := reg.Get(ctx, tmpl.ID, 1)
	require.NoError(t, err)
	require.Equal(t, "<p>x</p>", string(content))
}

func TestGetDetectsCorruptedContent(t *testing.T) {
	reg, _, backend := newRegistry(t)
	ctx := context.Background()

	tmpl, err := reg.Create(ctx, template.CreateInput{
		Name: "report", Category: "ops", Format: template.FormatHTML,
		Content: []byte("<p>x</p>"), CreatedBy: "u-1",
	})
	require.NoError(t, err)

	keys, err := backend.List(ctx, "templates/ops/")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	backend.Corrupt(keys[0], []byte("<p>tampered</p>"))

	_, _, err = reg.Get(ctx, tmpl.ID, 0)
	require.ErrorIs(t, err, storage.ErrIntegrity)
}

func TestListFiltersByCategory(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	for _, c := range []struct{ name, category string }{
		{"invoice", "finance"}, {"payslip", "finance"}, {"memo", "hr"},
	} {
		_, err := reg.Create(ctx, template.CreateInput{
			Name: c.name, Category: c.category, Format: template.FormatHTML,
			Content: []byte("<p>x</p>"), CreatedBy: "u-1",
		})
		require.NoError(t, err)
	}

	finance, err := reg.List(ctx, "finance", true)
	require.NoError(t, err)
	require.Len(t, finance, 2)

	all, err := reg.List(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, all, 3)
}
