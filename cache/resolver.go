package cache

// resolve computes the identity key for a response object. It requires a
// __typename and one of the configured id-like fields; objects without both
// get "" and are stored inline under their parent, outside cross-query
// sharing.
func (c *Cache) resolve(obj map[string]any) EntityKey {
	typename, _ := obj["__typename"].(string)
	if typename == "" {
		return ""
	}
	for _, f := range c.idFieldsFor(typename) {
		if v, ok := obj[f]; ok {
			if id := stringifyID(v); id != "" {
				return Key(typename, id)
			}
		}
	}
	return ""
}

func (c *Cache) idFieldsFor(typename string) []string {
	if fields, ok := c.idFields[typename]; ok {
		return fields
	}
	return c.defaultID
}

// idField returns the first configured id field present in obj.
func (c *Cache) idField(typename string, obj map[string]any) (string, bool) {
	for _, f := range c.idFieldsFor(typename) {
		if _, ok := obj[f]; ok {
			return f, true
		}
	}
	return "", false
}
