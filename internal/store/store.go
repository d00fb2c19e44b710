// Package store groups the persistence ports the service needs so the
// process can pick one adapter (memory or gorm) and hand it to every
// component.
package store

import (
	"context"

	"github.com/DoyleJ11/casebattle-backend/internal/apperr"
	"github.com/DoyleJ11/casebattle-backend/internal/catalog"
	"github.com/DoyleJ11/casebattle-backend/internal/engine"
	"github.com/DoyleJ11/casebattle-backend/internal/fairness"
	"github.com/DoyleJ11/casebattle-backend/internal/opening"
	"github.com/DoyleJ11/casebattle-backend/internal/room"
)

var ErrDuplicate = apperr.New(apperr.KindConflict, "record already exists")

type Store interface {
	catalog.Boxes
	fairness.Store
	opening.Store
	room.Store

	ListBoxes(ctx context.Context) ([]catalog.Box, error)
	GetBattle(ctx context.Context, id string) (engine.Room, error)
}
