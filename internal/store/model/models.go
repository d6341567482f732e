package model

import (
	"time"

	"gorm.io/datatypes"
)

// HistoryModel maps to 'negotiation_history': one completed datapoint per row.
type HistoryModel struct {
	ID                int64          `gorm:"column:id;primaryKey"`
	RunID             string         `gorm:"column:run_id;index"`
	Role              int            `gorm:"column:role;index:idx_history_state,priority:1"`
	OwnRemaining      int            `gorm:"column:own_remaining;index:idx_history_state,priority:2"`
	OpponentLastQty   int            `gorm:"column:opp_last_qty;index:idx_history_state,priority:3"`
	Step              int            `gorm:"column:step"`
	RemainingFraction float64        `gorm:"column:rem_fraction"`
	Quantity          int            `gorm:"column:quantity"`
	UnitPrice         float64        `gorm:"column:unit_price"`
	MinPrice          float64        `gorm:"column:min_price"`
	MaxPrice          float64        `gorm:"column:max_price"`
	Meta              datatypes.JSON `gorm:"column:meta;type:TEXT"`
	CreatedAtUnix     int64          `gorm:"column:created_at"`

	CreatedAt time.Time `gorm:"-"`
}

func (HistoryModel) TableName() string { return "negotiation_history" }

type RunStatus int

const (
	RunStatusRunning RunStatus = 0
	RunStatusDone    RunStatus = 1
	RunStatusFailed  RunStatus = 2
)

// RunModel 记录一次数据采集（自博弈或在线），history 行通过 run_id 关联。
type RunModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	RunID          string         `gorm:"column:run_id;uniqueIndex"`
	Source         string         `gorm:"column:source"`
	ParamsJSON     datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	Status         RunStatus      `gorm:"column:status"`
	Records        int            `gorm:"column:records"`
	Error          string         `gorm:"column:error"`
	StartedAtUnix  int64          `gorm:"column:started_at"`
	FinishedAtUnix *int64         `gorm:"column:finished_at"`
}

func (RunModel) TableName() string { return "collection_runs" }
