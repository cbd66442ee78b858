package domain

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ThresholdSpec is a threshold as submitted by an operator.
type ThresholdSpec struct {
	Code      string `json:"code" validate:"omitempty,max=255"`
	Value     string `json:"value" validate:"required"`
	Recurring bool   `json:"recurring"`
}

// AlertSpec is the normalized, validated form of a CreateRequest.
type AlertSpec struct {
	OrgID                  snowflake.ID
	Kind                   Kind
	SubscriptionExternalID string
	WalletID               snowflake.ID
	BillableMetricID       snowflake.ID
	Name                   string
	Code                   string
	Thresholds             []ParsedThreshold
}

type ParsedThreshold struct {
	Code      string
	Value     decimal.Decimal
	Recurring bool
}

// Validate checks req and returns its normalized form. Every violation is
// collected; a non-nil error is always a *ValidationError.
func Validate(req CreateRequest) (*AlertSpec, error) {
	verr := &ValidationError{}

	if err := validate.Struct(req); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				verr.add(fieldPath(fe), fe.Tag(), fieldMessage(fe))
			}
		} else {
			verr.add("request", "invalid", err.Error())
		}
	}

	spec := &AlertSpec{
		Kind:                   Kind(strings.TrimSpace(req.Kind)),
		SubscriptionExternalID: strings.TrimSpace(req.SubscriptionExternalID),
		Name:                   strings.TrimSpace(req.Name),
		Code:                   strings.TrimSpace(req.Code),
	}

	if spec.Kind.Valid() {
		if spec.Kind.IsWallet() {
			spec.WalletID = parsePositiveID(verr, "wallet_id", req.WalletID)
		} else if spec.SubscriptionExternalID == "" {
			verr.add("subscription_external_id", "required", "subscription_external_id is required")
		}
		if spec.Kind.RequiresBillableMetric() {
			spec.BillableMetricID = parsePositiveID(verr, "billable_metric_id", req.BillableMetricID)
		} else if strings.TrimSpace(req.BillableMetricID) != "" {
			verr.add("billable_metric_id", "not_allowed", fmt.Sprintf("billable_metric_id is not allowed for %s alerts", spec.Kind))
		}
	}

	if spec.Code == "" {
		spec.Code = slug.Make(spec.Name)
	}
	if spec.Code == "" {
		verr.add("code", "required", "code is required when name is empty")
	}

	seen := map[string]int{}
	for i, th := range req.Thresholds {
		field := "thresholds[" + strconv.Itoa(i) + "]"
		code := strings.TrimSpace(th.Code)
		if code != "" {
			if first, dup := seen[code]; dup {
				verr.add(field+".code", "duplicate", fmt.Sprintf("code %q already used by thresholds[%d]", code, first))
			} else {
				seen[code] = i
			}
		}

		value, err := decimal.NewFromString(strings.TrimSpace(th.Value))
		if err != nil {
			if strings.TrimSpace(th.Value) != "" {
				verr.add(field+".value", "invalid", "value must be a decimal number")
			}
			continue
		}
		switch {
		case th.Recurring && value.Sign() <= 0:
			verr.add(field+".value", "must_be_positive", "recurring threshold value must be greater than 0")
			continue
		case value.Sign() < 0:
			verr.add(field+".value", "must_be_non_negative", "threshold value must be greater than or equal to 0")
			continue
		}
		spec.Thresholds = append(spec.Thresholds, ParsedThreshold{Code: code, Value: value, Recurring: th.Recurring})
	}

	if !verr.empty() {
		return nil, verr
	}
	return spec, nil
}

func parsePositiveID(verr *ValidationError, field, value string) snowflake.ID {
	value = strings.TrimSpace(value)
	if value == "" {
		verr.add(field, "required", field+" is required")
		return 0
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		verr.add(field, "invalid", field+" must be a valid id")
		return 0
	}
	return id
}

// fieldPath strips the struct name validator prefixes namespaces with.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s item(s)", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, param)
	default:
		return fmt.Sprintf("%s failed validation for '%s'", field, fe.Tag())
	}
}
