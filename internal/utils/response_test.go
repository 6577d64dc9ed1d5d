package utils_test

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/unigigs-api/internal/utils"
)

type gigRow struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func respond(t *testing.T, handler fiber.Handler) (int, map[string]json.RawMessage) {
	t.Helper()
	app := fiber.New()
	app.Get("/", handler)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	return resp.StatusCode, fields
}

func TestOKCarriesPageMeta(t *testing.T) {
	status, fields := respond(t, func(c *fiber.Ctx) error {
		gigs := []gigRow{{ID: "g1", Title: "Tutor"}, {ID: "g2", Title: "Logo"}}
		return utils.OK(c, gigs, "", utils.PageMeta{Limit: 20, Offset: 40, Count: len(gigs)})
	})

	require.Equal(t, fiber.StatusOK, status)
	require.JSONEq(t, `true`, string(fields["success"]))
	require.JSONEq(t, `"success"`, string(fields["message"]))
	require.JSONEq(t, `[{"id":"g1","title":"Tutor"},{"id":"g2","title":"Logo"}]`, string(fields["data"]))
	require.JSONEq(t, `{"limit":20,"offset":40,"count":2}`, string(fields["meta"]))
	require.NotContains(t, fields, "details")
}

func TestSendSuccessWithStatusOmitsMeta(t *testing.T) {
	status, fields := respond(t, func(c *fiber.Ctx) error {
		return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "gig posted", gigRow{ID: "g1", Title: "Tutor"})
	})

	require.Equal(t, fiber.StatusCreated, status)
	require.JSONEq(t, `"gig posted"`, string(fields["message"]))
	require.NotContains(t, fields, "meta")
	require.NotContains(t, fields, "details")
}

func TestFailKeepsValidationDetails(t *testing.T) {
	status, fields := respond(t, func(c *fiber.Ctx) error {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", map[string]string{"payment": "gte"})
	})

	require.Equal(t, fiber.StatusBadRequest, status)
	require.JSONEq(t, `false`, string(fields["success"]))
	require.JSONEq(t, `{"payment":"gte"}`, string(fields["details"]))
	require.NotContains(t, fields, "data")
}

func TestFailOmitsEmptyDetails(t *testing.T) {
	var nilMap map[string]string
	var nilSlice []string
	var nilPointer *gigRow

	cases := map[string]interface{}{
		"untyped nil": nil,
		"nil map":     nilMap,
		"empty map":   map[string]string{},
		"nil slice":   nilSlice,
		"nil pointer": nilPointer,
	}
	for name, details := range cases {
		t.Run(name, func(t *testing.T) {
			status, fields := respond(t, func(c *fiber.Ctx) error {
				return utils.Fail(c, fiber.StatusNotFound, "not found: gig not found", details)
			})
			require.Equal(t, fiber.StatusNotFound, status)
			require.NotContains(t, fields, "details")
			require.JSONEq(t, `"not found: gig not found"`, string(fields["message"]))
		})
	}
}

func TestSendErrorDefaultsMessage(t *testing.T) {
	status, fields := respond(t, func(c *fiber.Ctx) error {
		return utils.SendError(c, fiber.StatusConflict, "")
	})

	require.Equal(t, fiber.StatusConflict, status)
	require.JSONEq(t, `"error"`, string(fields["message"]))
	require.NotContains(t, fields, "details")
}
