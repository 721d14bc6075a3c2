package scoring

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/skylineoracle/internal/models"
)

func TestWindDirectionError(t *testing.T) {
	tests := []struct {
		a, b float64
		want float64
	}{
		{350, 10, 20},
		{10, 350, 20},
		{0, 180, 180},
		{180, 0, 180},
		{0, 0, 0},
		{0, 360, 0},
		{270, 260, 10},
		{90, 271, 179},
		{45, 225, 180},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WindDirectionError(tt.a, tt.b), "WindDirectionError(%v, %v)", tt.a, tt.b)
	}
}

func TestWindDirectionError_SymmetricAndBounded(t *testing.T) {
	for a := 0; a < 360; a++ {
		for b := 0; b < 360; b++ {
			ab := WindDirectionError(float64(a), float64(b))
			ba := WindDirectionError(float64(b), float64(a))
			if ab != ba {
				t.Fatalf("WindDirectionError(%d, %d) = %v but (%d, %d) = %v", a, b, ab, b, a, ba)
			}
			if ab < 0 || ab > 180 {
				t.Fatalf("WindDirectionError(%d, %d) = %v, outside [0, 180]", a, b, ab)
			}
		}
	}
}

func TestPoints_WorkedExample(t *testing.T) {
	forecast := Conditions{High: 72, WindSpeed: 10, WindDir: 270, Precip: 0.00}
	actual := Conditions{High: 70, WindSpeed: 12, WindDir: 260, Precip: 0.05}

	// 2 (temp) + 2 (wind speed) + 10 (direction) + 5 (precip)
	assert.Equal(t, 19, Points(forecast, actual))
}

func TestPoints_Symmetric(t *testing.T) {
	cases := []struct{ a, b Conditions }{
		{Conditions{72, 10, 270, 0}, Conditions{70, 12, 260, 0.05}},
		{Conditions{55.5, 0, 5, 1.25}, Conditions{61, 22, 355, 0}},
		{Conditions{-3, 4, 180, 0.01}, Conditions{12, 4, 0, 0.33}},
	}
	for _, c := range cases {
		assert.Equal(t, Points(c.a, c.b), Points(c.b, c.a))
	}
}

func TestPoints_ZeroOnlyWhenExact(t *testing.T) {
	base := Conditions{High: 80, WindSpeed: 8, WindDir: 90, Precip: 0.12}
	assert.Equal(t, 0, Points(base, base))

	wrapped := base
	wrapped.WindDir = 450
	assert.Equal(t, 0, Points(base, wrapped), "directions equal mod 360 score zero")

	for name, tweak := range map[string]func(*Conditions){
		"high":      func(c *Conditions) { c.High++ },
		"windSpeed": func(c *Conditions) { c.WindSpeed++ },
		"windDir":   func(c *Conditions) { c.WindDir++ },
		"precip":    func(c *Conditions) { c.Precip += 0.01 },
	} {
		other := base
		tweak(&other)
		assert.Positive(t, Points(base, other), name)
	}
}

func TestPoints_Rounding(t *testing.T) {
	assert.Equal(t, 3, Points(Conditions{High: 70.4}, Conditions{High: 67}))
	assert.Equal(t, 4, Points(Conditions{High: 70.5}, Conditions{High: 67}))
	assert.Equal(t, 5, Points(Conditions{Precip: 0}, Conditions{Precip: 0.05}))
}

func TestScore_PendingIsNotZero(t *testing.T) {
	p := Pending()
	z := Earned(0)

	assert.True(t, p.IsPending())
	assert.False(t, z.IsPending())
	assert.NotEqual(t, p, z)
	assert.Equal(t, "--", p.String())
	assert.Equal(t, "0", z.String())

	pj, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, "null", string(pj))

	zj, err := json.Marshal(z)
	require.NoError(t, err)
	assert.JSONEq(t, "0", string(zj))
}

func TestScore_Add(t *testing.T) {
	assert.True(t, Pending().Add(Pending()).IsPending())

	got, ok := Pending().Add(Earned(7)).Points()
	assert.True(t, ok)
	assert.Equal(t, 7, got)

	got, ok = Earned(3).Add(Pending()).Points()
	assert.True(t, ok)
	assert.Equal(t, 3, got)

	got, _ = Earned(3).Add(Earned(4)).Points()
	assert.Equal(t, 7, got)
}

func TestGrade(t *testing.T) {
	pred := models.Prediction{HighF: 77, WindSpeedKt: 10, WindDirDeg: 350, PrecipIn: 0.10}

	t.Run("missing observation is pending", func(t *testing.T) {
		assert.True(t, Grade(pred, nil).IsPending())
	})

	t.Run("observation without high is pending", func(t *testing.T) {
		obs := &models.Observation{WindSpeedKt: 10}
		assert.True(t, Grade(pred, obs).IsPending())
	})

	t.Run("converts celsius high at the boundary", func(t *testing.T) {
		obs := &models.Observation{
			HighC:       sql.NullFloat64{Float64: 25, Valid: true}, // 77°F
			WindSpeedKt: 12,
			WindDirDeg:  10,
			PrecipIn:    0.10,
		}
		pts, ok := Grade(pred, obs).Points()
		require.True(t, ok)
		assert.Equal(t, 22, pts) // 0 + 2 + 20 + 0
	})

	t.Run("perfect forecast earns zero", func(t *testing.T) {
		obs := &models.Observation{
			HighC:       sql.NullFloat64{Float64: 25, Valid: true},
			WindSpeedKt: 10,
			WindDirDeg:  350,
			PrecipIn:    0.10,
		}
		pts, ok := Grade(pred, obs).Points()
		require.True(t, ok)
		assert.Equal(t, 0, pts)
	})
}

func TestCelsiusToFahrenheit(t *testing.T) {
	assert.Equal(t, 32.0, CelsiusToFahrenheit(0))
	assert.Equal(t, 212.0, CelsiusToFahrenheit(100))
	assert.Equal(t, -40.0, CelsiusToFahrenheit(-40))
}
