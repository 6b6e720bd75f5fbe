package scraper

// Listing page locators. The maps front end changes its markup often;
// everything page-specific lives here.
const (
	// Consent wall shown before the first maps page in some regions.
	ConsentButtonXPath = `//*[@id='yDmH0d']/c-wiz/div/div/div/div[2]/div[1]/div[3]/div[1]/div[1]/form[2]/div/div/button`

	// Reviews panel
	TotalReviewsXPath    = `//*[@id="QA0Szd"]/div/div/div[1]/div[2]/div/div[1]/div/div/div[2]/div[1]/div/div[2]/div[3]`
	SortButtonXPath      = `//*[@id="QA0Szd"]/div/div/div[1]/div[2]/div/div[1]/div/div/div[2]/div[8]/div[2]/button`
	SortNewestXPath      = `//*[@id="action-menu"]/div[2]`
	ScrollContainerXPath = `//*[@id="QA0Szd"]/div/div/div[1]/div[2]/div/div[1]/div/div/div[2]`

	// Review card
	CardClass       = "jJc9Ad"
	CardSelector    = "div." + CardClass
	ReviewIDAttr    = "data-review-id"
	AuthorSelector  = ".d4r55"
	StarsSelector   = ".kvMYJc"
	StarSelector    = ".hCCjke"
	FilledStarClass = "elGi1d"
	DateSelector    = ".rsqaWe"
	LikesSelector   = ".pkWtMe"
	CommentSection  = ".MyEned"
	CommentText     = ".wiI7pd"
	ExpandButton    = ".MyEned button"
	TranslateButton = ".oqftme button"
	ExtraSection    = `div[jslog='127691']`
	ExtraSpan       = ".RfDO5c"
)
