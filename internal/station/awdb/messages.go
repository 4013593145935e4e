package awdb

import (
	"encoding/xml"
	"strings"
)

// Requests. Element names carry the q0 prefix bound in the envelope.

type getStationsRequest struct {
	XMLName      xml.Name `xml:"q0:getStations"`
	StateCds     []string `xml:"stateCds,omitempty"`
	NetworkCds   []string `xml:"networkCds,omitempty"`
	CountyNames  []string `xml:"countyNames,omitempty"`
	MinElevation string   `xml:"minElevation,omitempty"`
	LogicalAnd   bool     `xml:"logicalAnd"`
}

type getStationMetadataRequest struct {
	XMLName        xml.Name `xml:"q0:getStationMetadata"`
	StationTriplet string   `xml:"stationTriplet"`
}

type getDataRequest struct {
	XMLName                xml.Name `xml:"q0:getData"`
	StationTriplets        []string `xml:"stationTriplets"`
	ElementCd              string   `xml:"elementCd"`
	Ordinal                int      `xml:"ordinal"`
	Duration               string   `xml:"duration"`
	GetFlags               bool     `xml:"getFlags"`
	BeginDate              string   `xml:"beginDate"`
	EndDate                string   `xml:"endDate"`
	AlwaysReturnDailyFeb29 bool     `xml:"alwaysReturnDailyFeb29"`
}

type getHourlyDataRequest struct {
	XMLName         xml.Name `xml:"q0:getHourlyData"`
	StationTriplets []string `xml:"stationTriplets"`
	ElementCd       string   `xml:"elementCd"`
	Ordinal         int      `xml:"ordinal"`
	BeginDate       string   `xml:"beginDate"`
	EndDate         string   `xml:"endDate"`
	BeginHour       *int     `xml:"beginHour,omitempty"`
	EndHour         *int     `xml:"endHour,omitempty"`
}

// Responses. Tags carry no namespace so prefixes chosen by the server do not
// matter.

type getStationsResponse struct {
	XMLName  xml.Name `xml:"getStationsResponse"`
	Triplets []string `xml:"return"`
}

type getStationMetadataResponse struct {
	XMLName xml.Name         `xml:"getStationMetadataResponse"`
	Return  *stationMetadata `xml:"return"`
}

type stationMetadata struct {
	Name           string `xml:"name"`
	Elevation      string `xml:"elevation"`
	StationTriplet string `xml:"stationTriplet"`
	Latitude       string `xml:"latitude"`
	Longitude      string `xml:"longitude"`
	CountyName     string `xml:"countyName"`
}

type getDataResponse struct {
	XMLName xml.Name    `xml:"getDataResponse"`
	Records []dailyData `xml:"return"`
}

type dailyData struct {
	StationTriplet string         `xml:"stationTriplet"`
	BeginDate      string         `xml:"beginDate"`
	EndDate        string         `xml:"endDate"`
	Values         []nillableText `xml:"values"`
}

type getHourlyDataResponse struct {
	XMLName xml.Name     `xml:"getHourlyDataResponse"`
	Records []hourlyData `xml:"return"`
}

type hourlyData struct {
	StationTriplet string        `xml:"stationTriplet"`
	Values         []hourlyValue `xml:"values"`
}

type hourlyValue struct {
	DateTime nillableText `xml:"dateTime"`
	Value    nillableText `xml:"value"`
}

// nillableText is an element that may be marked xsi:nil="true".
type nillableText struct {
	Nil  string `xml:"nil,attr"`
	Text string `xml:",chardata"`
}

// Absent reports whether the element carried no value.
func (n nillableText) Absent() bool {
	return n.Nil == "true" || n.Nil == "1" || strings.TrimSpace(n.Text) == ""
}
