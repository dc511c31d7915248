package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/keeperauth/internal/client/services"
)

func (a *App) AddNote(ctx context.Context) error {
	name, err := GetSimpleText(a.reader, "Note name", a.out)
	if err != nil {
		return err
	}
	body, err := GetMultiline(a.reader, "Note text", a.out)
	if err != nil {
		return err
	}
	if err := a.session.SaveNote(name, services.Note{Title: name, Body: body}); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Saved")
	return nil
}

func (a *App) ShowNote(ctx context.Context) error {
	name, err := GetSimpleText(a.reader, "Note name", a.out)
	if err != nil {
		return err
	}
	n, err := a.session.OpenNote(name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\n%s\n", n.Title, n.Body)
	return nil
}

func (a *App) List(ctx context.Context) error {
	names, err := a.session.ListItems()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(a.out, "No items")
		return nil
	}
	for _, n := range names {
		fmt.Fprintln(a.out, "  "+n)
	}
	return nil
}
