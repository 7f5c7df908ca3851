package discovery

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type nodeinfoLinks struct {
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

type nodeinfoUsage struct {
	Users struct {
		Total int `json:"total"`
	} `json:"users"`
	LocalPosts     int    `json:"localPosts"`
	SharedInboxUrl string `json:"sharedInboxUrl,omitempty"`
}

type nodeinfo2 struct {
	Version           string           `json:"version"`
	Software          nodeinfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	Services          nodeinfoServices `json:"services"`
	OpenRegistrations bool             `json:"openRegistrations"`
	Usage             nodeinfoUsage    `json:"usage"`
}

type nodeinfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type nodeinfoServices struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

type nodeinfo1 struct {
	Version  string           `json:"version"`
	Software nodeinfoSoftware `json:"software"`
	Protocols struct {
		InboundPush []string `json:"inbound"`
	} `json:"protocols"`
	Usage nodeinfoUsage `json:"usage"`
}

// WellKnownNodeinfo implements GET /.well-known/nodeinfo, a links
// document pointing at the 1.0 and 2.0 documents.
func (d *Deps) WellKnownNodeinfo(c *gin.Context) {
	base := d.InstanceBaseURL
	doc := nodeinfoLinks{}
	doc.Links = append(doc.Links,
		struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		}{Rel: "http://nodeinfo.diaspora.software/ns/schema/1.0", Href: base + "/nodeinfo/1.0"},
		struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		}{Rel: "http://nodeinfo.diaspora.software/ns/schema/2.0", Href: base + "/nodeinfo/2.0"},
	)
	c.JSON(http.StatusOK, doc)
}

// NodeinfoV2 implements GET /nodeinfo/2.0.
func (d *Deps) NodeinfoV2(c *gin.Context) {
	c.JSON(http.StatusOK, nodeinfo2{
		Version:  "2.0",
		Software: nodeinfoSoftware{Name: "apforge", Version: "1.0"},
		Protocols: []string{"activitypub"},
		Services: nodeinfoServices{
			Inbound:  []string{},
			Outbound: []string{},
		},
		OpenRegistrations: false,
		Usage:             nodeinfoUsage{SharedInboxUrl: d.InstanceBaseURL + "/inbox"},
	})
}

// NodeinfoV1 implements GET /nodeinfo/1.0.
func (d *Deps) NodeinfoV1(c *gin.Context) {
	doc := nodeinfo1{
		Version:  "1.0",
		Software: nodeinfoSoftware{Name: "apforge", Version: "1.0"},
	}
	doc.Protocols.InboundPush = []string{"activitypub"}
	c.JSON(http.StatusOK, doc)
}
