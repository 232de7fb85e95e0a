package gossip

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Status exposes the node's membership state on the admin server.
type Status struct {
	node *Node
}

func NewStatus(node *Node) *Status {
	return &Status{
		node: node,
	}
}

func (s *Status) Register(group *gin.RouterGroup) {
	group.GET("/group", s.groupRoute)
	group.GET("/graph", s.graphRoute)
	group.GET("/graph/events", s.listEventsRoute)
	group.GET("/graph/events/:hash", s.getEventRoute)
}

func (s *Status) groupRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Membership().Group())
}

func (s *Status) graphRoute(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"events": s.node.Membership().NumEvents(),
	})
}

func (s *Status) listEventsRoute(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Membership().Events())
}

func (s *Status) getEventRoute(c *gin.Context) {
	hash, err := ParseHash(c.Param("hash"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	event, ok := s.node.Membership().Event(hash)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, event)
}
