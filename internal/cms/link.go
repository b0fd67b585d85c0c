package cms

// Link is the decoded form of a reference field value.
type Link struct {
	LinkType string
	ID       string
}

// IsEntry reports whether the link targets an entry.
func (l Link) IsEntry() bool { return l.LinkType == TypeEntry }

// IsAsset reports whether the link targets an asset.
func (l Link) IsAsset() bool { return l.LinkType == TypeAsset }

// Key renders the clone-map key for this link, e.g. "Entry:abc123".
func (l Link) Key() string { return l.LinkType + ":" + l.ID }

// Value renders the wire shape of the link.
func (l Link) Value() map[string]any {
	return map[string]any{
		"sys": map[string]any{
			"type":     TypeLink,
			"linkType": l.LinkType,
			"id":       l.ID,
		},
	}
}

// EntryLink builds the wire value of an entry reference.
func EntryLink(id string) map[string]any {
	return Link{LinkType: TypeEntry, ID: id}.Value()
}

// AssetLink builds the wire value of an asset reference.
func AssetLink(id string) map[string]any {
	return Link{LinkType: TypeAsset, ID: id}.Value()
}

// ParseLink decodes a single link value. It accepts the generic map shape
// produced by JSON decoding and rejects everything else.
func ParseLink(value any) (Link, bool) {
	object, ok := value.(map[string]any)
	if !ok {
		return Link{}, false
	}
	sys, ok := object["sys"].(map[string]any)
	if !ok {
		return Link{}, false
	}
	if kind, _ := sys["type"].(string); kind != TypeLink {
		return Link{}, false
	}
	linkType, _ := sys["linkType"].(string)
	id, _ := sys["id"].(string)
	if id == "" || (linkType != TypeEntry && linkType != TypeAsset) {
		return Link{}, false
	}
	return Link{LinkType: linkType, ID: id}, true
}

// ParseLinkList decodes an ordered list of links. It reports false unless the
// value is a non-empty array whose elements are all links.
func ParseLinkList(value any) ([]Link, bool) {
	items, ok := value.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	links := make([]Link, 0, len(items))
	for _, item := range items {
		link, ok := ParseLink(item)
		if !ok {
			return nil, false
		}
		links = append(links, link)
	}
	return links, true
}

// ContainsLinks reports whether the value is a link or a list of links.
func ContainsLinks(value any) bool {
	if _, ok := ParseLink(value); ok {
		return true
	}
	_, ok := ParseLinkList(value)
	return ok
}

// LinksIn extracts every link from a value: a bare link yields one element, a
// link list yields all of them in order, anything else yields none.
func LinksIn(value any) []Link {
	if link, ok := ParseLink(value); ok {
		return []Link{link}
	}
	if links, ok := ParseLinkList(value); ok {
		return links
	}
	return nil
}
