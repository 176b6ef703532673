package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"pdu-bridge/internal/bridgeerr"
	"pdu-bridge/internal/domain"
	"pdu-bridge/internal/manager"
)

// RuleHandler serves the automation rule CRUD/toggle endpoints and the
// per-device event feed. Every mutation goes through
// BridgeManager.SetRules, which forwards the replaced ruleset to the
// owning poller rather than mutating it here directly.
type RuleHandler struct {
	mgr *manager.BridgeManager
}

func NewRuleHandler(mgr *manager.BridgeManager) *RuleHandler {
	return &RuleHandler{mgr: mgr}
}

// List returns the live ruleset for one device.
func (h *RuleHandler) List(c *gin.Context) {
	p, _, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	RespondOK(c, p.Rules())
}

// Create adds a new rule to the device's ruleset.
func (h *RuleHandler) Create(c *gin.Context) {
	var rule domain.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	if rule.Name == "" {
		RespondBadRequest(c, "rule name is required")
		return
	}

	p, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}

	rules := copyRuleset(p.Rules())
	if _, exists := rules[rule.Name]; exists {
		RespondErr(c, bridgeerr.New(bridgeerr.KindConflict, "rule already exists").WithDevice(deviceID))
		return
	}
	rules[rule.Name] = &rule

	if err := h.mgr.SetRules(deviceID, rules); err != nil {
		RespondErr(c, err)
		return
	}
	p.PushEvent(domain.EventRecord{RuleName: rule.Name, Type: domain.EventRuleCreated})
	RespondCreated(c, rule)
}

// Update replaces one named rule's definition, preserving no runtime
// state (condition_since/triggered reset, matching a fresh definition).
func (h *RuleHandler) Update(c *gin.Context) {
	name := c.Param("name")
	var rule domain.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	rule.Name = name

	p, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	rules := copyRuleset(p.Rules())
	if _, exists := rules[name]; !exists {
		RespondErr(c, bridgeerr.New(bridgeerr.KindNotFound, "rule not found").WithDevice(deviceID))
		return
	}
	rules[name] = &rule

	if err := h.mgr.SetRules(deviceID, rules); err != nil {
		RespondErr(c, err)
		return
	}
	p.PushEvent(domain.EventRecord{RuleName: name, Type: domain.EventRuleUpdated, Details: "replaced by API"})
	RespondOK(c, rule)
}

// Delete removes one named rule.
func (h *RuleHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	p, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	rules := copyRuleset(p.Rules())
	if _, exists := rules[name]; !exists {
		RespondErr(c, bridgeerr.New(bridgeerr.KindNotFound, "rule not found").WithDevice(deviceID))
		return
	}
	delete(rules, name)

	if err := h.mgr.SetRules(deviceID, rules); err != nil {
		RespondErr(c, err)
		return
	}
	p.PushEvent(domain.EventRecord{RuleName: name, Type: domain.EventRuleDeleted})
	RespondOK(c, gin.H{"deleted": name})
}

// Toggle flips one rule's Enabled flag without touching its other
// fields or runtime state.
func (h *RuleHandler) Toggle(c *gin.Context) {
	name := c.Param("name")
	p, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	rules := copyRuleset(p.Rules())
	rule, exists := rules[name]
	if !exists {
		RespondErr(c, bridgeerr.New(bridgeerr.KindNotFound, "rule not found").WithDevice(deviceID))
		return
	}
	toggled := *rule
	toggled.Enabled = !toggled.Enabled
	rules[name] = &toggled

	if err := h.mgr.SetRules(deviceID, rules); err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, toggled)
}

// Events returns the device's recent automation event ring.
func (h *RuleHandler) Events(c *gin.Context) {
	p, _, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	RespondOK(c, p.Events())
}

// Export serializes one device's ruleset as YAML, for backup or
// copying rules to another bridge.
func (h *RuleHandler) Export(c *gin.Context) {
	p, _, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	out, err := yaml.Marshal(p.Rules())
	if err != nil {
		RespondInternalError(c, err.Error())
		return
	}
	c.Data(http.StatusOK, "application/yaml", out)
}

// Import replaces one device's ruleset from a YAML document shaped
// like Export's output. Existing runtime state (condition_since,
// triggered, fire_count) is whatever the document carries, so a
// round-tripped export restores in-flight delay/restore progress too.
func (h *RuleHandler) Import(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		RespondBadRequest(c, err.Error())
		return
	}
	var rules domain.Ruleset
	if err := yaml.Unmarshal(body, &rules); err != nil {
		RespondBadRequest(c, "invalid rule YAML: "+err.Error())
		return
	}

	_, deviceID, ok := resolvePoller(c, h.mgr)
	if !ok {
		return
	}
	if err := h.mgr.SetRules(deviceID, rules); err != nil {
		RespondErr(c, err)
		return
	}
	RespondOK(c, rules)
}

// copyRuleset shallow-copies the map so a handler's in-flight edit
// never mutates the live poller's ruleset before SetRules applies it.
func copyRuleset(rules domain.Ruleset) domain.Ruleset {
	out := make(domain.Ruleset, len(rules))
	for k, v := range rules {
		out[k] = v
	}
	return out
}
