package normalize

// ProductMapping locates product fields in a source's payload.
type ProductMapping struct {
	ID          Path
	Title       Path
	Price       Path
	Category    Path
	RatingValue Path
	RatingCount Path
}

// CartMapping locates cart fields. Line paths are relative to each element
// of the Products array.
type CartMapping struct {
	ID            Path
	UserID        Path
	Date          Path
	Products      Path
	LineProductID Path
	LineQuantity  Path
}

// UserMapping locates user fields, flattening nested name/address objects.
type UserMapping struct {
	ID        Path
	Email     Path
	Username  Path
	FirstName Path
	LastName  Path
	Phone     Path
	Street    Path
	City      Path
	Zipcode   Path
}

// SourceMappings is everything needed to read one source. A nil mapping
// means the source does not publish that entity kind.
type SourceMappings struct {
	Product *ProductMapping
	Cart    *CartMapping
	User    *UserMapping
}

const (
	SourceFakeStore = "fakestore"
	SourceDummyJSON = "dummyjson"
)

// Builtin returns the mappings for the upstream APIs the pipeline ships with.
func Builtin() map[string]SourceMappings {
	return map[string]SourceMappings{
		SourceFakeStore: {
			Product: &ProductMapping{
				ID:          "id",
				Title:       "title",
				Price:       "price",
				Category:    "category",
				RatingValue: "rating.rate",
				RatingCount: "rating.count",
			},
			Cart: &CartMapping{
				ID:            "id",
				UserID:        "userId",
				Date:          "date",
				Products:      "products",
				LineProductID: "productId",
				LineQuantity:  "quantity",
			},
			User: &UserMapping{
				ID:        "id",
				Email:     "email",
				Username:  "username",
				FirstName: "name.firstname",
				LastName:  "name.lastname",
				Phone:     "phone",
				Street:    "address.street",
				City:      "address.city",
				Zipcode:   "address.zipcode",
			},
		},
		SourceDummyJSON: {
			Product: &ProductMapping{
				ID:          "id",
				Title:       "title",
				Price:       "price",
				Category:    "category",
				RatingValue: "rating",
			},
			User: &UserMapping{
				ID:        "id",
				Email:     "email",
				Username:  "username",
				FirstName: "firstName",
				LastName:  "lastName",
				Phone:     "phone",
				Street:    "address.address",
				City:      "address.city",
				Zipcode:   "address.postalCode",
			},
		},
	}
}
