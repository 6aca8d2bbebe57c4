package dto

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/errs"
	"github.com/radieske/rapmarket-wager-platform/internal/wager-service/ledger"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// reporta o nome do campo JSON, que é o que o cliente enviou
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return ledger.ValidUsername(fl.Field().String())
	})
	return v
}

// Validate aplica as tags `validate` e devolve o primeiro problema como ValidationError
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) || len(fes) == 0 {
		return errs.Invalid("", "%v", err)
	}
	fe := fes[0]
	field := fe.Field()
	if ns := fe.Namespace(); strings.Count(ns, ".") > 1 {
		// options[1].label -> options
		field = strings.SplitN(strings.SplitN(ns, ".", 2)[1], "[", 2)[0]
	}
	return errs.Invalid(field, "%s failed on '%s'", fe.Field(), fe.Tag())
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
}

type PlaceBetRequest struct {
	EventID  string `json:"eventId" validate:"required"`
	OptionID string `json:"optionId" validate:"required"`
	Amount   int64  `json:"amount" validate:"gt=0"`
}

type OptionRequest struct {
	Label string          `json:"label" validate:"required,max=100"`
	Odds  decimal.Decimal `json:"odds"`
}

// CreateEventRequest: endTime e stakes são opcionais (defaults do serviço)
type CreateEventRequest struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"required"`
	Category    string          `json:"category" validate:"max=50"`
	StartTime   time.Time       `json:"startTime" validate:"required"`
	EndTime     *time.Time      `json:"endTime"`
	MinStake    int64           `json:"minStake" validate:"gte=0"`
	MaxStake    int64           `json:"maxStake" validate:"gte=0"`
	Options     []OptionRequest `json:"options" validate:"min=2,dive"`
}

type ResolveEventRequest struct {
	WinningOptionID string `json:"winningOptionId" validate:"required"`
}

// AdjustPointsRequest é o ajuste manual de pontos feito pelo admin
type AdjustPointsRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Note   string `json:"note" validate:"max=200"`
}

type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type SetAdminRequest struct {
	Admin *bool `json:"admin" validate:"required"`
}
