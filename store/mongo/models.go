package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/praxishq/entitle/export"
	"github.com/praxishq/entitle/id"
	"github.com/praxishq/entitle/subscription"
	"github.com/praxishq/entitle/types"
	"github.com/praxishq/entitle/usage"
)

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:entitle_subscriptions"`

	ID                     string     `grove:"id,pk"                    bson:"_id"`
	UserID                 string     `grove:"user_id"                  bson:"user_id"`
	TierID                 string     `grove:"tier_id"                  bson:"tier_id"`
	Status                 string     `grove:"status"                   bson:"status"`
	Cadence                string     `grove:"cadence"                  bson:"cadence"`
	ProviderCustomerID     string     `grove:"provider_customer_id"     bson:"provider_customer_id"`
	ProviderSubscriptionID string     `grove:"provider_subscription_id" bson:"provider_subscription_id"`
	CurrentPeriodStart     time.Time  `grove:"current_period_start"     bson:"current_period_start"`
	CurrentPeriodEnd       time.Time  `grove:"current_period_end"       bson:"current_period_end"`
	ProviderUpdatedAt      time.Time  `grove:"provider_updated_at"      bson:"provider_updated_at"`
	CanceledAt             *time.Time `grove:"canceled_at"              bson:"canceled_at,omitempty"`
	CreatedAt              time.Time  `grove:"created_at"               bson:"created_at"`
	UpdatedAt              time.Time  `grove:"updated_at"               bson:"updated_at"`
}

func toSubscriptionModel(r *subscription.Record) *subscriptionModel {
	return &subscriptionModel{
		ID:                     r.ID.String(),
		UserID:                 r.UserID,
		TierID:                 r.TierID,
		Status:                 string(r.Status),
		Cadence:                string(r.Cadence),
		ProviderCustomerID:     r.ProviderCustomerID,
		ProviderSubscriptionID: r.ProviderSubscriptionID,
		CurrentPeriodStart:     r.CurrentPeriodStart,
		CurrentPeriodEnd:       r.CurrentPeriodEnd,
		ProviderUpdatedAt:      r.ProviderUpdatedAt,
		CanceledAt:             r.CanceledAt,
		CreatedAt:              r.CreatedAt,
		UpdatedAt:              r.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Record, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}

	return &subscription.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                     subID,
		UserID:                 m.UserID,
		TierID:                 m.TierID,
		Status:                 subscription.Status(m.Status),
		Cadence:                subscription.Cadence(m.Cadence),
		ProviderCustomerID:     m.ProviderCustomerID,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		CurrentPeriodStart:     m.CurrentPeriodStart,
		CurrentPeriodEnd:       m.CurrentPeriodEnd,
		ProviderUpdatedAt:      m.ProviderUpdatedAt,
		CanceledAt:             m.CanceledAt,
	}, nil
}

// ==================== Usage counter models ====================

type usageCounterModel struct {
	grove.BaseModel `grove:"table:entitle_usage_counters"`

	ID          string    `grove:"id,pk"        bson:"_id"`
	UserID      string    `grove:"user_id"      bson:"user_id"`
	Action      string    `grove:"action"       bson:"action"`
	Count       int64     `grove:"count"        bson:"count"`
	PeriodStart time.Time `grove:"period_start" bson:"period_start"`
	PeriodEnd   time.Time `grove:"period_end"   bson:"period_end"`
	CreatedAt   time.Time `grove:"created_at"   bson:"created_at"`
	UpdatedAt   time.Time `grove:"updated_at"   bson:"updated_at"`
}

func fromUsageCounterModel(m *usageCounterModel) (*usage.Record, error) {
	recID, err := id.ParseUsageRecordID(m.ID)
	if err != nil {
		return nil, err
	}

	return &usage.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          recID,
		UserID:      m.UserID,
		Action:      usage.ActionKind(m.Action),
		Count:       m.Count,
		PeriodStart: m.PeriodStart,
		PeriodEnd:   m.PeriodEnd,
	}, nil
}

// ==================== Export job models ====================

type exportJobModel struct {
	grove.BaseModel `grove:"table:entitle_export_jobs"`

	ID             string            `grove:"id,pk"           bson:"_id"`
	UserID         string            `grove:"user_id"         bson:"user_id"`
	Type           string            `grove:"type"            bson:"type"`
	Format         string            `grove:"format"          bson:"format"`
	Filters        map[string]string `grove:"filters"         bson:"filters,omitempty"`
	Fields         []string          `grove:"fields"          bson:"fields,omitempty"`
	Status         string            `grove:"status"          bson:"status"`
	RequestedAt    time.Time         `grove:"requested_at"    bson:"requested_at"`
	StartedAt      *time.Time        `grove:"started_at"      bson:"started_at,omitempty"`
	CompletedAt    *time.Time        `grove:"completed_at"    bson:"completed_at,omitempty"`
	WorkerID       string            `grove:"worker_id"       bson:"worker_id"`
	ResultLocation string            `grove:"result_location" bson:"result_location"`
	ErrorReason    string            `grove:"error_reason"    bson:"error_reason"`
	CreatedAt      time.Time         `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"      bson:"updated_at"`
}

func toExportJobModel(j *export.Job) *exportJobModel {
	return &exportJobModel{
		ID:             j.ID.String(),
		UserID:         j.UserID,
		Type:           string(j.Type),
		Format:         string(j.Format),
		Filters:        j.Filters,
		Fields:         j.Fields,
		Status:         string(j.Status),
		RequestedAt:    j.RequestedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		WorkerID:       j.WorkerID,
		ResultLocation: j.ResultLocation,
		ErrorReason:    j.ErrorReason,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}

func fromExportJobModel(m *exportJobModel) (*export.Job, error) {
	jobID, err := id.ParseExportJobID(m.ID)
	if err != nil {
		return nil, err
	}

	return &export.Job{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             jobID,
		UserID:         m.UserID,
		Type:           export.Type(m.Type),
		Format:         export.Format(m.Format),
		Filters:        m.Filters,
		Fields:         m.Fields,
		Status:         export.Status(m.Status),
		RequestedAt:    m.RequestedAt,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		WorkerID:       m.WorkerID,
		ResultLocation: m.ResultLocation,
		ErrorReason:    m.ErrorReason,
	}, nil
}

// ==================== Customer mapping models ====================

type customerModel struct {
	grove.BaseModel `grove:"table:entitle_customers"`

	UserID     string    `grove:"user_id,pk"  bson:"_id"`
	CustomerID string    `grove:"customer_id" bson:"customer_id"`
	CreatedAt  time.Time `grove:"created_at"  bson:"created_at"`
}
