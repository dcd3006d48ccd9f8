package catalog

import (
	"context"
	"fmt"

	"catalogsync/internal"
	"catalogsync/internal/util"
)

// Source lists and fetches spreadsheet tabs. One ref may yield several
// sheets, e.g. a workbook or a published page with many tables.
type Source interface {
	ListSheets(ctx context.Context) ([]internal.SheetRef, error)
	Fetch(ctx context.Context, ref internal.SheetRef) ([]internal.Sheet, error)
}

// StaticSource serves sheets that were already read, such as mail
// attachments.
type StaticSource []internal.Sheet

func (s StaticSource) ListSheets(context.Context) ([]internal.SheetRef, error) {
	refs := make([]internal.SheetRef, len(s))
	for i, sheet := range s {
		refs[i] = internal.SheetRef{Name: sheet.Name}
	}
	return refs, nil
}

func (s StaticSource) Fetch(_ context.Context, ref internal.SheetRef) ([]internal.Sheet, error) {
	for _, sheet := range s {
		if sheet.Name == ref.Name {
			return []internal.Sheet{sheet}, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", ref.Name, ErrSheetNotFound)
}

// selectSheets narrows refs to the one named by want. Empty or "all" keeps
// every ref. Names compare case- and accent-insensitively.
func selectSheets(refs []internal.SheetRef, want string) ([]internal.SheetRef, error) {
	if want == "" || util.FoldHeader(want) == "all" {
		return refs, nil
	}
	folded := util.FoldHeader(want)
	for _, ref := range refs {
		if util.FoldHeader(ref.Name) == folded {
			return []internal.SheetRef{ref}, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", want, ErrSheetNotFound)
}
