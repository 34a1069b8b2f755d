package client

import (
	"errors"
	"net/http"
	"testing"

	sterrors "github.com/diwise/sensorthings-sync/pkg/sensorthings/errors"
	"github.com/diwise/sensorthings-sync/pkg/sensorthings/types"
	"github.com/matryer/is"
)

const testBaseURL string = "https://example.org/FROST-Server/v1.1"

func TestQueryParametersAreEncodedInFixedOrder(t *testing.T) {
	is := is.New(t)

	q := NewQuery(Expand("Locations"), NameEquals("Hagby 1"), Limit(10))

	is.Equal(q.Encode(), "$top=10&$orderby=id%20asc&$filter=name%20eq%20%27Hagby%201%27&$expand=Locations")
}

func TestFiltersAreJoinedWithAnd(t *testing.T) {
	is := is.New(t)

	q := NewQuery(NameStartsWith("kv-"), Filter("properties/agency eq 'SGU'"))

	is.Equal(q.FilterExpression(), "startswith(name,'kv-') and properties/agency eq 'SGU'")
}

func TestNameLiteralQuotesAreEscaped(t *testing.T) {
	is := is.New(t)

	q := NewQuery(NameEquals("O'Brien"))

	is.Equal(q.FilterExpression(), "name eq 'O''Brien'")
}

func TestNegativePageLimitFlipsDefaultOrder(t *testing.T) {
	is := is.New(t)

	q := NewQuery(PageLimit(-3))

	is.Equal(q.Order(), DefaultOrderDescending)
	is.Equal(q.Pages(), 3)
	is.Equal(q.Encode(), "$orderby=id%20desc")
}

func TestExplicitOrderTakesPrecedence(t *testing.T) {
	is := is.New(t)

	q := NewQuery(PageLimit(-3), OrderBy("phenomenonTime asc"))

	is.Equal(q.Order(), "phenomenonTime asc")
}

func TestBuildGetRequest(t *testing.T) {
	is := is.New(t)

	req, err := NewRequest(testBaseURL, http.MethodGet, types.Things, WithQuery(NewQuery(NameEquals("t1"), Limit(1))))

	is.NoErr(err)
	is.Equal(req.URL, testBaseURL+"/Things?$top=1&$orderby=id%20asc&$filter=name%20eq%20%27t1%27")
}

func TestBuildScopedGetRequest(t *testing.T) {
	is := is.New(t)

	req, err := NewRequest(testBaseURL, http.MethodGet, types.Things, ScopedTo(types.Locations, 7))
	is.NoErr(err)
	is.Equal(req.URL, testBaseURL+"/Locations(7)/Things")

	req, err = NewRequest(testBaseURL, http.MethodGet, types.Datastreams, AtPath("/Things(3)/Datastreams/"))
	is.NoErr(err)
	is.Equal(req.URL, testBaseURL+"/Things(3)/Datastreams")
}

func TestBuildPatchRequest(t *testing.T) {
	is := is.New(t)

	req, err := NewRequest(testBaseURL, http.MethodPatch, types.Sensors, WithID(17))

	is.NoErr(err)
	is.Equal(req.String(), "PATCH "+testBaseURL+"/Sensors(17)")
}

func TestPatchRequestWithoutIDFails(t *testing.T) {
	is := is.New(t)

	_, err := NewRequest(testBaseURL, http.MethodPatch, types.Sensors)

	is.True(errors.Is(err, sterrors.ErrMissingID))
}

func TestBuildPostRequest(t *testing.T) {
	is := is.New(t)

	req, err := NewRequest(testBaseURL+"/", http.MethodPost, types.Observations)

	is.NoErr(err)
	is.Equal(req.URL, testBaseURL+"/Observations")
}

func TestConnectionNormalizesBareHost(t *testing.T) {
	is := is.New(t)

	is.Equal(NewConnection("frost.example.org:8443", "", "").BaseURL(), "https://frost.example.org:8443/FROST-Server/v1.1")
	is.Equal(NewConnection("http://localhost:8080/FROST-Server/v1.1/", "", "").BaseURL(), "http://localhost:8080/FROST-Server/v1.1")
}
