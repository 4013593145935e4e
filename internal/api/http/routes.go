package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/pow-tracker/internal/forecast"
	"github.com/i474232898/pow-tracker/internal/station"
)

var validate = validator.New()

// maxSeasons bounds a single seasonal request.
const maxSeasons = 40

// RegisterRoutes wires the HTTP handlers into the Fiber app. forecasts may be nil.
func RegisterRoutes(app *fiber.App, service *station.Service, forecasts *forecast.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "pow-tracker",
			"sites":   len(service.Sites()),
		})
	})

	v1.Get("/snapshot", func(c *fiber.Ctx) error {
		snapshot, err := service.LatestSnapshot(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(snapshotResponse(snapshot))
	})

	v1.Post("/snapshot/refresh", func(c *fiber.Ctx) error {
		snapshot, err := service.RefreshSnapshot(c.UserContext())
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(snapshotResponse(snapshot))
	})

	v1.Get("/stations/search", func(c *fiber.Ctx) error {
		var req searchQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		stations, err := service.SearchStations(c.UserContext(), req.filters())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"count":    len(stations),
			"stations": stations,
		})
	})

	v1.Get("/stations/metadata", func(c *fiber.Ctx) error {
		meta, err := service.Metadata(c.UserContext(), c.Query("triplet"))
		if err != nil {
			return err
		}
		return c.JSON(meta)
	})

	v1.Get("/series/daily", func(c *fiber.Ctx) error {
		var req seriesQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		opts := []station.QueryOption{station.WithOrdinal(req.Ordinal), station.WithFeb29(req.Feb29)}
		q, err := station.NewDailyQuery(req.Triplet, req.Element, req.Begin, req.End, opts...)
		if err != nil {
			return err
		}
		series, err := service.DailySeries(c.UserContext(), q)
		if err != nil {
			return err
		}
		return c.JSON(seriesResponse(q, series, station.DateLayout))
	})

	v1.Get("/series/hourly", func(c *fiber.Ctx) error {
		var req seriesQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		opts := []station.QueryOption{station.WithOrdinal(req.Ordinal)}
		if req.BeginHour != nil || req.EndHour != nil {
			if req.BeginHour == nil || req.EndHour == nil {
				return fiber.NewError(fiber.StatusBadRequest, "beginHour and endHour must be given together")
			}
			opts = append(opts, station.WithHours(*req.BeginHour, *req.EndHour))
		}
		q, err := station.NewHourlyQuery(req.Triplet, req.Element, req.Begin, req.End, opts...)
		if err != nil {
			return err
		}
		series, err := service.HourlySeries(c.UserContext(), q)
		if err != nil {
			return err
		}
		return c.JSON(seriesResponse(q, series, station.HourLayout))
	})

	v1.Get("/series/season", func(c *fiber.Ctx) error {
		var req seasonQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		seasons, err := service.SeasonalSeries(c.UserContext(), req.Triplet, req.Element, req.Years)
		if err != nil {
			return err
		}
		out := make([]fiber.Map, 0, len(seasons))
		for _, s := range seasons {
			out = append(out, fiber.Map{
				"year":   s.Year,
				"dates":  formatDates(s.Dates, station.DateLayout),
				"values": s.Values,
			})
		}
		return c.JSON(fiber.Map{
			"triplet":     req.Triplet,
			"element":     req.Element,
			"seasons":     out,
			"climatology": station.Climatology(seasons),
		})
	})

	v1.Get("/forecasts", func(c *fiber.Ctx) error {
		names := []string{}
		if forecasts != nil {
			names = forecasts.Names()
		}
		return c.JSON(fiber.Map{"forecasts": names})
	})

	v1.Get("/forecasts/:name", func(c *fiber.Ctx) error {
		if forecasts == nil {
			return fiber.NewError(fiber.StatusNotFound, "no forecasts configured")
		}
		f, err := forecasts.Get(c.UserContext(), c.Params("name"))
		if err != nil {
			return err
		}
		return c.JSON(f)
	})
}

// ErrorHandler renders errors as JSON and maps domain errors to HTTP status codes.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, station.ErrInvalidQuery):
		return fiber.StatusBadRequest
	case errors.Is(err, station.ErrEmptyResponse),
		errors.Is(err, station.ErrSnapshotNotFound),
		errors.Is(err, forecast.ErrUnknownSource),
		errors.Is(err, forecast.ErrElementNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, station.ErrRunInProgress):
		return fiber.StatusConflict
	case errors.Is(err, station.ErrMalformedResponse),
		errors.Is(err, station.ErrServiceUnavailable),
		errors.Is(err, forecast.ErrUnavailable):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func snapshotResponse(s station.Snapshot) fiber.Map {
	return fiber.Map{
		"date":     s.CapturedAt.Format(station.CapturedAtLayout),
		"timezone": s.CapturedAt.Location().String(),
		"rows":     s.Rows,
	}
}

func seriesResponse(q station.StationQuery, s station.Series, layout string) fiber.Map {
	return fiber.Map{
		"triplet":  q.Triplet,
		"element":  q.Element,
		"duration": q.Duration,
		"dates":    formatDates(s.Dates, layout),
		"values":   s.Values,
	}
}

func formatDates(dates []time.Time, layout string) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(layout)
	}
	return out
}

// searchQuery holds query parameters for the station search.
type searchQuery struct {
	States       []string
	Networks     []string
	Counties     []string
	MinElevation *float64
	And          bool
}

func (s *searchQuery) bind(c *fiber.Ctx) error {
	s.States = splitList(strings.ToUpper(c.Query("state")))
	s.Networks = splitList(strings.ToUpper(c.Query("network")))
	s.Counties = splitList(c.Query("county"))
	if v := c.Query("minElevation"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid minElevation %q", v)
		}
		s.MinElevation = &f
	}
	s.And = c.QueryBool("and", false)
	if len(s.States)+len(s.Networks)+len(s.Counties) == 0 && s.MinElevation == nil {
		return errors.New("at least one of state, network, county or minElevation is required")
	}
	return nil
}

func (s searchQuery) filters() station.SearchFilters {
	return station.SearchFilters{
		StateCodes:   s.States,
		NetworkCodes: s.Networks,
		CountyNames:  s.Counties,
		MinElevation: s.MinElevation,
		LogicalAnd:   s.And,
	}
}

// seriesQuery holds query parameters for the daily and hourly series endpoints.
type seriesQuery struct {
	Triplet   string    `validate:"required"`
	Element   string    `validate:"required"`
	Begin     time.Time `validate:"required"`
	End       time.Time `validate:"required,gtefield=Begin"`
	Ordinal   int       `validate:"min=1"`
	Feb29     bool
	BeginHour *int `validate:"omitempty,min=0,max=23"`
	EndHour   *int `validate:"omitempty,min=0,max=23"`
}

func (q *seriesQuery) bind(c *fiber.Ctx) error {
	q.Triplet = c.Query("triplet")
	q.Element = strings.ToUpper(c.Query("element"))
	q.Ordinal = c.QueryInt("ordinal", 1)
	q.Feb29 = c.QueryBool("feb29", false)

	var err error
	if q.Begin, err = parseDate(c.Query("begin")); err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if q.End, err = parseDate(c.Query("end")); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if q.BeginHour, err = optionalInt(c.Query("beginHour")); err != nil {
		return fmt.Errorf("beginHour: %w", err)
	}
	if q.EndHour, err = optionalInt(c.Query("endHour")); err != nil {
		return fmt.Errorf("endHour: %w", err)
	}
	return validate.Struct(q)
}

// seasonQuery holds query parameters for the seasonal collection.
type seasonQuery struct {
	Triplet string `validate:"required"`
	Element string `validate:"required"`
	Years   []int  `validate:"required,min=1,dive,min=1900,max=2200"`
}

func (q *seasonQuery) bind(c *fiber.Ctx) error {
	q.Triplet = c.Query("triplet")
	q.Element = strings.ToUpper(c.Query("element", station.ElementSnowDepth))

	if raw := c.Query("years"); raw != "" {
		for _, y := range splitList(raw) {
			n, err := strconv.Atoi(y)
			if err != nil {
				return fmt.Errorf("invalid year %q", y)
			}
			q.Years = append(q.Years, n)
		}
	} else if from, to := c.QueryInt("from"), c.QueryInt("to"); from > 0 && to >= from {
		if to-from+1 > maxSeasons {
			return fmt.Errorf("at most %d seasons per request", maxSeasons)
		}
		for y := from; y <= to; y++ {
			q.Years = append(q.Years, y)
		}
	}
	if len(q.Years) > maxSeasons {
		return fmt.Errorf("at most %d seasons per request", maxSeasons)
	}
	return validate.Struct(q)
}

// parseDate accepts YYYY-MM-DD.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("required (YYYY-MM-DD)")
	}
	t, err := time.Parse(station.DateLayout, s)
	if err != nil {
		return time.Time{}, errors.New("invalid date format; use YYYY-MM-DD")
	}
	return t, nil
}

func optionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return &n, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
