package model_test

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/okian/vitalrisk/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCategorize(t *testing.T) {
	Convey("Given scores around the band boundaries", t, func() {
		cases := []struct {
			score float64
			want  model.RiskCategory
		}{
			{0.0, model.RiskLow},
			{0.299, model.RiskLow},
			{0.30, model.RiskMedium},
			{0.5, model.RiskMedium},
			{0.699, model.RiskMedium},
			{0.70, model.RiskHigh},
			{1.0, model.RiskHigh},
		}
		for _, c := range cases {
			So(model.Categorize(c.score), ShouldEqual, c.want)
		}

		Convey("NaN is treated as High", func() {
			So(model.Categorize(math.NaN()), ShouldEqual, model.RiskHigh)
		})
	})
}

func TestOutcomeValid(t *testing.T) {
	Convey("Only 0 and 1 are valid outcomes", t, func() {
		So(model.OutcomeStable.Valid(), ShouldBeTrue)
		So(model.OutcomeDeteriorated.Valid(), ShouldBeTrue)
		So(model.Outcome(2).Valid(), ShouldBeFalse)
		So(model.Outcome(-1).Valid(), ShouldBeFalse)
	})
}

func TestVitalsInputBuild(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	Convey("Given a vitals submission", t, func() {
		in := model.VitalsInput{
			PatientID: " PAT001 ",
			HeartRate: model.Float(72),
			SpO2:      model.Float(98),
		}

		Convey("When it is well formed", func() {
			rec, err := in.Build("v-1", now)

			Convey("Then it is normalized into a record", func() {
				So(err, ShouldBeNil)
				So(rec.ID, ShouldEqual, "v-1")
				So(rec.PatientID, ShouldEqual, "PAT001")
				So(rec.RecordedAt, ShouldEqual, now)
				So(rec.FieldCount(), ShouldEqual, 2)
				So(string(rec.Payload), ShouldContainSubstring, `"heart_rate":72`)
			})
		})

		Convey("When the temperature is in Celsius", func() {
			in.Temperature = model.Float(39.5)
			in.TemperatureUnit = "c"
			rec, err := in.Build("v-2", now)

			Convey("Then it is stored in Fahrenheit", func() {
				So(err, ShouldBeNil)
				So(*rec.Temperature, ShouldEqual, 103.1)
			})
		})

		Convey("When recorded_at is supplied", func() {
			in.RecordedAt = "2025-02-28T08:30:00+02:00"
			rec, err := in.Build("v-3", now)
			So(err, ShouldBeNil)
			So(rec.RecordedAt, ShouldEqual, time.Date(2025, 2, 28, 6, 30, 0, 0, time.UTC))

			in.RecordedAt = "2025-02-28T08:30:00.123456"
			rec, err = in.Build("v-4", now)
			So(err, ShouldBeNil)
			So(rec.RecordedAt.Hour(), ShouldEqual, 8)
		})

		Convey("Then malformed submissions are rejected as invalid input", func() {
			bad := []model.VitalsInput{
				{HeartRate: model.Float(70)},
				{PatientID: "PAT001"},
				{PatientID: "PAT001", HeartRate: model.Float(400)},
				{PatientID: "PAT001", SpO2: model.Float(101)},
				{PatientID: "PAT001", HeartRate: model.Float(math.NaN())},
				{PatientID: "PAT001", RespiratoryRate: model.Float(math.Inf(1))},
				{PatientID: "PAT001", Temperature: model.Float(10), TemperatureUnit: "C"},
				{PatientID: "PAT001", Temperature: model.Float(98.6), TemperatureUnit: "K"},
				{PatientID: "PAT001", HeartRate: model.Float(70), RecordedAt: "yesterday"},
			}
			for i, b := range bad {
				_, err := b.Build(fmt.Sprintf("bad-%d", i), now)
				So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
			}
		})
	})
}

func TestPatientInputBuild(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	Convey("Given a registration request", t, func() {
		age := 72
		in := model.PatientInput{
			ID:         "PAT001",
			Name:       "John Smith",
			Age:        &age,
			BloodType:  "a+",
			Conditions: []string{"Hypertension", " heart disease", "hypertension", ""},
		}

		Convey("When it is valid", func() {
			p, err := in.Build("generated", now)
			So(err, ShouldBeNil)
			So(p.ID, ShouldEqual, "PAT001")
			So(p.BloodType, ShouldEqual, "A+")
			So(p.Conditions, ShouldResemble, []string{"hypertension", "heart_disease"})

			ctx := p.Context(now)
			So(ctx.AgeKnown, ShouldBeTrue)
			So(ctx.Age, ShouldEqual, 72)
		})

		Convey("When the id is omitted the generated one is used", func() {
			in.ID = ""
			p, err := in.Build("generated", now)
			So(err, ShouldBeNil)
			So(p.ID, ShouldEqual, "generated")
		})

		Convey("When only a date of birth is given the age is derived", func() {
			in.Age = nil
			in.DateOfBirth = "1950-06-15"
			p, err := in.Build("", now)
			So(err, ShouldBeNil)
			got, ok := p.AgeAt(now)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, 74)
		})

		Convey("When a leap year shifts day-of-year the birthday still decides the age", func() {
			in.Age = nil
			in.DateOfBirth = "1949-03-02"
			p, err := in.Build("", now)
			So(err, ShouldBeNil)

			dayBefore, _ := p.AgeAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
			So(dayBefore, ShouldEqual, 74)
			birthday, _ := p.AgeAt(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
			So(birthday, ShouldEqual, 75)

			in.DateOfBirth = "1948-02-29"
			leapling, err := in.Build("", now)
			So(err, ShouldBeNil)
			before, _ := leapling.AgeAt(time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC))
			So(before, ShouldEqual, 74)
			after, _ := leapling.AgeAt(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))
			So(after, ShouldEqual, 75)
		})

		Convey("Then invalid requests are rejected", func() {
			noName := in
			noName.Name = "  "
			_, err := noName.Build("", now)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)

			negative := -3
			badAge := in
			badAge.Age = &negative
			_, err = badAge.Build("", now)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)

			future := in
			future.DateOfBirth = "2030-01-01"
			_, err = future.Build("", now)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given an error of a known kind", t, func() {
		err := fmt.Errorf("outer: %w", model.NewError("store.save", model.ErrStoreUnavailable, "tx aborted"))

		Convey("Then errors.Is and KindOf report the kind", func() {
			So(errors.Is(err, model.ErrStoreUnavailable), ShouldBeTrue)
			So(model.KindOf(err), ShouldEqual, model.ErrStoreUnavailable)
			So(err.Error(), ShouldContainSubstring, "tx aborted")
		})

		Convey("Then unrelated errors carry no kind", func() {
			So(model.KindOf(errors.New("boom")), ShouldBeNil)
		})
	})
}
