package feeds

import (
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"rssagg/models"
)

func toRawItems(feed *gofeed.Feed) []models.RawItem {
	items := make([]models.RawItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		items = append(items, toRawItem(item))
	}
	return items
}

func toRawItem(item *gofeed.Item) models.RawItem {
	raw := models.RawItem{
		Title:          item.Title,
		Link:           item.Link,
		GUID:           item.GUID,
		Summary:        item.Description,
		Content:        item.Description,
		EncodedContent: item.Content,
	}
	if raw.Link == "" && len(item.Links) > 0 {
		raw.Link = item.Links[0]
	}

	switch {
	case item.PublishedParsed != nil:
		raw.ISODate = item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.UpdatedParsed != nil:
		raw.ISODate = item.UpdatedParsed.UTC().Format(time.RFC3339)
	case item.Published != "":
		raw.ISODate = item.Published
	}

	media, description := mediaGroup(item.Extensions)
	raw.Media = media
	raw.Snippet = description
	return raw
}

// mediaGroup reads the media:group block video feeds attach to each entry
func mediaGroup(extensions ext.Extensions) (*models.Media, string) {
	group, ok := first(extensions["media"]["group"])
	if !ok {
		return nil, ""
	}

	description := ""
	if d, ok := first(group.Children["description"]); ok {
		description = d.Value
	}

	media := &models.Media{Kind: "video"}
	if thumb, ok := first(group.Children["thumbnail"]); ok {
		media.Thumbnail = thumb.Attrs["url"]
	}
	if community, ok := first(group.Children["community"]); ok {
		if stats, ok := first(community.Children["statistics"]); ok {
			if views, err := strconv.ParseInt(stats.Attrs["views"], 10, 64); err == nil {
				media.Views = views
			}
		}
	}
	if media.Thumbnail == "" && media.Views == 0 {
		return nil, description
	}
	return media, description
}

func first(list []ext.Extension) (ext.Extension, bool) {
	if len(list) == 0 {
		return ext.Extension{}, false
	}
	return list[0], true
}
