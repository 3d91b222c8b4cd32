package reminder

import (
	"github.com/smallbiznis/dunning/internal/reminder/repository"
	"github.com/smallbiznis/dunning/internal/reminder/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reminder.ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewLedger),
)
