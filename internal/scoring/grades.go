package scoring

import (
	"fmt"

	"github.com/pavelanni/assessor/internal/model"
)

// GradeBand awards Grade to scores at or above MinScore.
type GradeBand struct {
	MinScore int         `mapstructure:"min_score" json:"min_score"`
	Grade    model.Grade `mapstructure:"grade" json:"grade"`
}

// GradeTable is an ascending list of bands. The first band must start at 0.
type GradeTable []GradeBand

// DefaultGrades is the five-tier ladder.
func DefaultGrades() GradeTable {
	return GradeTable{
		{MinScore: 0, Grade: model.GradeNotQualified},
		{MinScore: 40, Grade: model.GradeTrainee},
		{MinScore: 60, Grade: model.GradeJunior},
		{MinScore: 75, Grade: model.GradeRegular},
		{MinScore: 90, Grade: model.GradeSenior},
	}
}

// FourTierGrades is the ladder without the trainee tier.
func FourTierGrades() GradeTable {
	return GradeTable{
		{MinScore: 0, Grade: model.GradeNotQualified},
		{MinScore: 60, Grade: model.GradeJunior},
		{MinScore: 75, Grade: model.GradeRegular},
		{MinScore: 90, Grade: model.GradeSenior},
	}
}

// Validate checks that bands are strictly ascending and start at 0.
func (t GradeTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("grade table is empty")
	}
	if t[0].MinScore != 0 {
		return fmt.Errorf("first band must start at 0, got %d", t[0].MinScore)
	}
	for i := 1; i < len(t); i++ {
		if t[i].MinScore <= t[i-1].MinScore {
			return fmt.Errorf("band %d (%s) is not above band %d", i, t[i].Grade, i-1)
		}
		if t[i].MinScore > 100 {
			return fmt.Errorf("band %d starts above 100", i)
		}
	}
	for i, b := range t {
		if b.Grade == "" {
			return fmt.Errorf("band %d has no grade", i)
		}
	}
	return nil
}

// Grade returns the highest band whose MinScore is <= score.
func (t GradeTable) Grade(score int) model.Grade {
	g := model.GradeNotQualified
	for _, b := range t {
		if score < b.MinScore {
			break
		}
		g = b.Grade
	}
	return g
}
