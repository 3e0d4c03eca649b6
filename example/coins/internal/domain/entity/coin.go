// Package entity holds the rows of the coins job.
package entity

import "fmt"

// CoinType tells how a coin changes the score of the player who collected it.
type CoinType string

const (
	// CoinAdd adds the coin score to the player's total.
	CoinAdd CoinType = "ADD"
	// CoinMultiply multiplies the player's total by the coin score.
	CoinMultiply CoinType = "MULTIPLY"
)

// Coin is one row of collected_coins.
type Coin struct {
	ID         int64    `gorm:"column:id;primaryKey"`
	PlayerName string   `gorm:"column:player_name"`
	CoinType   CoinType `gorm:"column:coin_type"`
	CoinScore  float64  `gorm:"column:coin_score"`
}

// TableName implements gorm's tabler.
func (Coin) TableName() string { return "collected_coins" }

// Apply returns total after collecting c.
func (c Coin) Apply(total float64) (float64, error) {
	switch c.CoinType {
	case CoinAdd:
		return total + c.CoinScore, nil
	case CoinMultiply:
		return total * c.CoinScore, nil
	default:
		return total, fmt.Errorf("coin %d has unknown type '%s'", c.ID, c.CoinType)
	}
}

// PlayerScore is one row of player_scores.
type PlayerScore struct {
	PlayerName string  `gorm:"column:player_name;primaryKey" parquet:"name=player_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalScore float64 `gorm:"column:total_score" parquet:"name=total_score, type=DOUBLE"`
}

// TableName implements gorm's tabler.
func (PlayerScore) TableName() string { return "player_scores" }
