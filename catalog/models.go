package catalog

// Product categories a provider may list.
const (
	CategoryFlight     = "flight"
	CategoryTrain      = "train"
	CategoryBus        = "bus"
	CategoryHotel      = "hotel"
	CategoryTourism    = "tourism"
	CategoryRestaurant = "restaurant"
)

const (
	TransactionCompleted = "completed"
)

type Product struct {
	ID          string   `json:"id"`
	ProviderID  string   `json:"provider_id"`
	Name        string   `json:"name" validate:"required,max=255"`
	Summary     string   `json:"summary" validate:"max=500"`
	Description string   `json:"description"`
	Price       float64  `json:"price" validate:"gt=0"`
	Discount    float64  `json:"discount" validate:"gte=0,lte=100"`
	Stock       int      `json:"stock" validate:"gte=0"`
	Category    string   `json:"category" validate:"required,oneof=flight train bus hotel tourism restaurant"`
	Images      []string `json:"images"`
	IsActive    bool     `json:"isActive"`
	CreatedAt   int64    `json:"cr_time,omitempty"`
	UpdatedAt   int64    `json:"ch_time,omitempty"`
}

// TripPackage bundles a flight, a hotel and optional activities. It refers to
// products by id only.
type TripPackage struct {
	ID             string   `json:"id"`
	Name           string   `json:"name" validate:"required,max=100"`
	Photos         []string `json:"photos"`
	FlightID       string   `json:"flight" validate:"required"`
	HotelID        string   `json:"hotel" validate:"required"`
	ActivityIDs    []string `json:"activities"`
	Price          float64  `json:"price" validate:"gte=0.01"`
	StartDate      string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate        string   `json:"end_date" validate:"required,datetime=2006-01-02"`
	AvailableUnits int      `json:"available_units" validate:"gte=1"`
	Published      bool     `json:"published"`
	Description    string   `json:"description" validate:"max=500"`
	CreatedAt      int64    `json:"cr_time,omitempty"`
	UpdatedAt      int64    `json:"ch_time,omitempty"`
}

type Transaction struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	PackageID    string `json:"package_id"`
	Status       string `json:"status"`
	Quantity     int    `json:"quantity"`
	PurchaseDate string `json:"purchase_date"`
	CreatedAt    int64  `json:"cr_time,omitempty"`
}

// Purchase is one entry of a user's purchase history.
type Purchase struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	PackageID     string  `json:"package_id"`
	PackageName   string  `json:"package_name"`
	TransactionID string  `json:"transaction_id"`
	Quantity      int     `json:"quantity"`
	TotalPrice    float64 `json:"total_price"`
	PurchaseDate  string  `json:"purchase_date"`
	CreatedAt     int64   `json:"cr_time,omitempty"`
}

// Image is an uploaded picture. Content travels base64 encoded inside the
// document and is never part of a JSON response.
type Image struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Content     []byte `json:"content,omitempty"`
	UploadedAt  string `json:"uploaded_at"`
	CreatedAt   int64  `json:"cr_time,omitempty"`
}

// StockChange adds stockChange to the stock of every listed product.
type StockChange struct {
	Updates     []string `json:"updates" validate:"required,min=1,dive,required"`
	StockChange *int     `json:"stockChange" validate:"required"`
}

type PurchaseRequest struct {
	Quantity int `json:"quantity" validate:"gte=1"`
}

// ProductUpdate carries the fields a provider may change. Nil fields keep
// their stored value.
type ProductUpdate struct {
	Name        *string   `json:"name" validate:"omitnil,max=255"`
	Summary     *string   `json:"summary" validate:"omitnil,max=500"`
	Description *string   `json:"description"`
	Price       *float64  `json:"price" validate:"omitnil,gt=0"`
	Discount    *float64  `json:"discount" validate:"omitnil,gte=0,lte=100"`
	Stock       *int      `json:"stock" validate:"omitnil,gte=0"`
	Category    *string   `json:"category" validate:"omitnil,oneof=flight train bus hotel tourism restaurant"`
	Images      *[]string `json:"images"`
}

func (u ProductUpdate) changes() map[string]interface{} {
	changes := make(map[string]interface{})
	if u.Name != nil {
		changes["name"] = *u.Name
	}
	if u.Summary != nil {
		changes["summary"] = *u.Summary
	}
	if u.Description != nil {
		changes["description"] = *u.Description
	}
	if u.Price != nil {
		changes["price"] = *u.Price
	}
	if u.Discount != nil {
		changes["discount"] = *u.Discount
	}
	if u.Stock != nil {
		changes["stock"] = *u.Stock
	}
	if u.Category != nil {
		changes["category"] = *u.Category
	}
	if u.Images != nil {
		images := make([]interface{}, 0, len(*u.Images))
		for _, image := range *u.Images {
			images = append(images, image)
		}
		changes["images"] = images
	}
	return changes
}
